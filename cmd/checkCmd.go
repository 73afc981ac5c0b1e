package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether this machine can run the emulator",
	Run: func(cmd *cobra.Command, args []string) {
		modules, _ := os.ReadFile("/proc/modules")

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Requirement", "Needed for", "Status"})
		t.AppendRow(table.Row{"root", "namespaces, veth", status(os.Geteuid() == 0)})
		t.AppendRow(table.Row{"ip", "node commands", statusPath("ip")})
		t.AppendRow(table.Row{"controller", "OpenFlow controller", statusPath("controller")})
		t.AppendRow(table.Row{"dpctl", "reference kernel datapath", statusPath("dpctl")})
		t.AppendRow(table.Row{"ofdatapath", "user datapath", statusPath("ofdatapath")})
		t.AppendRow(table.Row{"ovs-vsctl", "ovs switches", statusPath("ovs-vsctl")})
		t.AppendRow(table.Row{"nsenter", "docker-backed hosts", statusPath("nsenter")})
		t.AppendRow(table.Row{"module tun", "user datapath", status(strings.Contains(string(modules), "tun"))})
		t.AppendRow(table.Row{"module ofdatapath", "reference kernel datapath", status(strings.Contains(string(modules), "ofdatapath"))})
		t.AppendRow(table.Row{"module openvswitch", "ovs switches", status(strings.Contains(string(modules), "openvswitch"))})
		t.Render()
	},
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}

func statusPath(binary string) string {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "missing"
	}
	return fmt.Sprintf("ok (%s)", path)
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
