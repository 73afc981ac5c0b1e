package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mnet/api"
	"mnet/pkg"
	"mnet/pkg/check"
	"mnet/pkg/cli"
	"mnet/pkg/util"
)

var (
	fromFile    string
	interactive bool
	flagCfg     api.TopoConfig
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a topology and run a connectivity test or the CLI",
	Long: `Build the configured topology, bring the network up and
either run an all-pairs ping test or drop into the interactive CLI.
Requires root and the iproute2 tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.CheckPrivilege(); err != nil {
			return err
		}
		if err := util.FixLimits(); err != nil {
			return err
		}
		cfg := &flagCfg
		if fromFile != "" {
			loaded, err := pkg.LoadConfig(fromFile)
			if err != nil {
				return err
			}
			cfg = loaded
		} else {
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		nw, err := pkg.NewFromConfig(cfg)
		if err != nil {
			return err
		}
		if interactive {
			if err := nw.Start(); err != nil {
				nw.Stop()
				return err
			}
			cli.New(nw).Run()
			return nw.Stop()
		}
		result, err := nw.Run(check.PingTestVerbose)
		if err != nil {
			return err
		}
		logrus.Infof("*** Result: %s", result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&fromFile, "from", "f", "", "path to a topology config file")
	runCmd.Flags().BoolVar(&interactive, "cli", false, "drop into the interactive CLI instead of running a test")
	runCmd.Flags().StringVar(&flagCfg.Topo, "topo", "", "topology: tree, grid or linear")
	runCmd.Flags().StringVar(&flagCfg.Datapath, "datapath", "", "datapath backend: kernel or user")
	runCmd.Flags().StringVar(&flagCfg.Switch, "switch", "", "switch implementation: reference or ovs")
	runCmd.Flags().IntVar(&flagCfg.Depth, "depth", 0, "tree depth")
	runCmd.Flags().IntVar(&flagCfg.Fanout, "fanout", 0, "tree fanout")
	runCmd.Flags().IntVar(&flagCfg.N, "n", 0, "grid width")
	runCmd.Flags().IntVar(&flagCfg.M, "m", 0, "grid height")
	runCmd.Flags().IntVar(&flagCfg.SwitchCount, "switches", 0, "linear switch count")
	runCmd.Flags().StringVar(&flagCfg.HostImage, "host-image", "", "run hosts as docker containers of this image")
	runCmd.Flags().Uint32Var(&flagCfg.Link.DelayMs, "delay", 0, "per-link delay in ms")
	runCmd.Flags().Float32Var(&flagCfg.Link.Loss, "loss", 0, "per-link loss percentage")
	runCmd.Flags().Uint64Var(&flagCfg.Link.RateMbps, "bw", 0, "per-link bandwidth limit in mbps")
}
