package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbosity string

var rootCmd = &cobra.Command{
	Use:   "mnet",
	Short: "Process-based OpenFlow network emulator",
	Long: `mnet emulates an OpenFlow network on a single kernel. Hosts,
switches and the controller are shell processes wired together with
veth pairs; hosts live in their own network namespaces.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(verbosity)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	},
}

// Execute runs the root command. It only needs to happen once.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&verbosity, "log-level", "l", "info",
		"log level (debug, info, warning, error)")
}
