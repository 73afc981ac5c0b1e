// Package cli is a small interactive console for a started network:
// inspect nodes and links, run connectivity tests, or hand a command
// line to any node's shell.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"

	"mnet/pkg"
	"mnet/pkg/check"
	"mnet/pkg/node"
)

const prompt = "mnet> "

type CLI struct {
	nw  *pkg.Network
	in  *bufio.Scanner
	out io.Writer
}

func New(nw *pkg.Network) *CLI {
	return &CLI{nw: nw, in: bufio.NewScanner(os.Stdin), out: os.Stdout}
}

// Run reads and executes commands until exit or EOF.
func (c *CLI) Run() {
	for {
		fmt.Fprint(c.out, prompt)
		if !c.in.Scan() {
			return
		}
		fields := strings.Fields(c.in.Text())
		if len(fields) == 0 {
			continue
		}
		first, rest := fields[0], fields[1:]
		switch first {
		case "exit", "quit":
			return
		case "help", "?":
			c.help()
		case "nodes":
			c.nodes()
		case "net":
			c.net()
		case "pingall":
			c.pingall()
		case "pingring":
			c.pingring()
		case "iperf":
			c.iperf(rest)
		case "sh":
			c.sh(rest)
		default:
			if n := c.nw.Registry.Get(first); n != nil && len(rest) > 0 {
				c.nodeCmd(n, rest)
			} else {
				fmt.Fprintf(c.out, "unknown node or command: %s\n", first)
			}
		}
	}
}

func (c *CLI) help() {
	fmt.Fprintln(c.out, `commands: help nodes net pingall pingring iperf sh exit
or send a command to a node's shell:  <node> <command...>
node names in arguments are replaced by their IP addresses, so
"h0 ping -c1 h1" works as expected.`)
}

func (c *CLI) nodes() {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.AppendHeader(table.Row{"Node", "IP", "Interfaces"})
	for _, name := range c.nw.Registry.Names() {
		n := c.nw.Registry.Get(name)
		t.AppendRow(table.Row{n.Name, n.IP(), strings.Join(n.Intfs, ",")})
	}
	t.Render()
}

func (c *CLI) net() {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.AppendHeader(table.Row{"Switch", "Interface", "Peer", "Peer interface"})
	for _, sw := range c.nw.Switches {
		s := sw.Endpoint()
		for _, intf := range s.Intfs {
			peer := s.Connections[intf]
			t.AppendRow(table.Row{s.Name, intf, peer.Node.Name, peer.Intf})
		}
	}
	t.Render()
}

func (c *CLI) pingall() {
	loss, err := check.PingAll(c.nw.Hosts, true)
	if err != nil {
		logrus.Errorf("pingall: %v", err)
		return
	}
	fmt.Fprintf(c.out, "%d%% packet loss\n", loss)
}

// pingring runs the concurrent variant: every host pings its ring
// successor at the same time.
func (c *CLI) pingring() {
	loss, err := check.PingRing(c.nw.Registry, c.nw.Hosts)
	if err != nil {
		logrus.Errorf("pingring: %v", err)
		return
	}
	fmt.Fprintf(c.out, "%d%% packet loss\n", loss)
}

func (c *CLI) iperf(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "usage: iperf <host1> <host2>")
		return
	}
	h1, h2 := c.nw.Registry.Get(args[0]), c.nw.Registry.Get(args[1])
	if h1 == nil || h2 == nil {
		fmt.Fprintln(c.out, "iperf: unknown host")
		return
	}
	server, client, err := check.Iperf(h1, h2)
	if err != nil {
		logrus.Errorf("iperf: %v", err)
		return
	}
	fmt.Fprintf(c.out, "server: %s, client: %s\n", server, client)
}

func (c *CLI) sh(args []string) {
	cmd := exec.Command("sh", "-c", strings.Join(args, " "))
	cmd.Stdout = c.out
	cmd.Stderr = c.out
	if err := cmd.Run(); err != nil {
		logrus.Errorf("sh: %v", err)
	}
}

// nodeCmd hands a command line to a node's shell, substituting known
// node names for their addresses, and streams the output as it comes.
// Ctrl-C is forwarded to the node's foreground command instead of
// killing the console.
func (c *CLI) nodeCmd(n *node.Node, args []string) {
	for i, arg := range args {
		if other := c.nw.Registry.Get(arg); other != nil && other.IP() != "" {
			args[i] = other.IP()
		}
	}
	if err := n.SendCmd(strings.Join(args, " ")); err != nil {
		logrus.Errorf("%s: %v", n.Name, err)
		return
	}
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-interrupts:
				if err := n.SendInt(); err != nil {
					logrus.Debugf("interrupt %s: %v", n.Name, err)
				}
			case <-done:
				return
			}
		}
	}()
	for {
		done, data, err := n.Monitor()
		if err != nil {
			logrus.Errorf("%s: %v", n.Name, err)
			return
		}
		fmt.Fprint(c.out, data)
		if done {
			return
		}
	}
}
