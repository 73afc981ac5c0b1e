// Package check holds the connectivity and bandwidth tests a driver
// can run against a started network. They only issue node commands and
// parse the textual output.
package check

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"mnet/pkg/node"
)

var pingRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) received`)

// ParsePing extracts packets sent and received from ping output.
func ParsePing(out string) (sent, received int, err error) {
	m := pingRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, errors.Errorf("could not parse ping output: %q", out)
	}
	sent, _ = strconv.Atoi(m[1])
	received, _ = strconv.Atoi(m[2])
	return sent, received, nil
}

// PingAll has every host ping every other host once and returns the
// percentage of lost packets.
func PingAll(hosts []*node.Node, verbose bool) (int, error) {
	packets, lost := 0, 0
	for _, h := range hosts {
		if verbose {
			logrus.Infof("%s -> ", h.Name)
		}
		for _, dst := range hosts {
			if h == dst {
				continue
			}
			out, err := h.Cmd("ping -c1 " + dst.IP())
			if err != nil {
				return 0, err
			}
			sent, received, err := ParsePing(out)
			if err != nil {
				return 0, err
			}
			if received > sent {
				return 0, errors.Errorf("%s received more packets than it sent:\n%s", h.Name, out)
			}
			packets += sent
			lost += sent - received
			if verbose {
				if received > 0 {
					logrus.Infof("%s ", dst.Name)
				} else {
					logrus.Info("X ")
				}
			}
		}
	}
	if packets == 0 {
		return 0, nil
	}
	return 100 * lost / packets, nil
}

// collectOutputs launches one command on every node, then gathers each
// node's complete output by polling the registry for whichever node has
// data, one chunk at a time.
func collectOutputs(reg *node.Registry, cmds map[*node.Node]string, timeout time.Duration) (map[*node.Node]string, error) {
	pending := make(map[*node.Node]*strings.Builder, len(cmds))
	for n, cmdline := range cmds {
		if err := n.SendCmd(cmdline); err != nil {
			return nil, err
		}
		pending[n] = &strings.Builder{}
	}
	outs := make(map[*node.Node]string, len(cmds))
	for len(pending) > 0 {
		ready, err := reg.Poll(timeout)
		if err != nil {
			return nil, err
		}
		if len(ready) == 0 {
			return nil, errors.Errorf("timed out waiting for %d command results", len(pending))
		}
		for _, n := range ready {
			buf, ok := pending[n]
			if !ok {
				continue
			}
			done, data, err := n.Monitor()
			if err != nil {
				return nil, err
			}
			buf.WriteString(data)
			if !done {
				continue
			}
			outs[n] = buf.String()
			delete(pending, n)
		}
	}
	return outs, nil
}

// PingRing has every host ping its ring successor concurrently: all
// pings run at once and the outputs are multiplexed back through the
// registry.
func PingRing(reg *node.Registry, hosts []*node.Node) (int, error) {
	if len(hosts) < 2 {
		return 0, nil
	}
	cmds := make(map[*node.Node]string, len(hosts))
	for i, h := range hosts {
		cmds[h] = "ping -c1 " + hosts[(i+1)%len(hosts)].IP()
	}
	outs, err := collectOutputs(reg, cmds, 10*time.Second)
	if err != nil {
		return 0, err
	}
	packets, lost := 0, 0
	for _, out := range outs {
		sent, received, err := ParsePing(out)
		if err != nil {
			return 0, err
		}
		packets += sent
		lost += sent - received
	}
	if packets == 0 {
		return 0, nil
	}
	return 100 * lost / packets, nil
}

// PingTestVerbose is a Network test: all-pairs ping, reported as a
// loss percentage.
func PingTestVerbose(controllers []*node.Controller, switches []node.Switch, hosts []*node.Node) (string, error) {
	loss, err := PingAll(hosts, true)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%% packet loss", loss), nil
}

var iperfRe = regexp.MustCompile(`([\d\.]+ \w+/sec)`)

// ParseIperf extracts the bandwidth figure from iperf output.
func ParseIperf(out string) (string, error) {
	m := iperfRe.FindStringSubmatch(out)
	if m == nil {
		return "", errors.Errorf("could not parse iperf output: %q", out)
	}
	return m[1], nil
}

// Iperf measures bandwidth between two hosts and returns the server
// and client readings.
func Iperf(h1, h2 *node.Node) (server, client string, err error) {
	if _, err := h1.Cmd("kill %iperf"); err != nil {
		return "", "", err
	}
	if _, err := h1.Cmd("iperf -s &"); err != nil {
		return "", "", err
	}
	clientOut, err := h2.Cmd("iperf -t 5 -c " + h1.IP())
	if err != nil {
		return "", "", err
	}
	// Killing the server flushes its report into the shared output
	// stream, so it rides along with the kill command's output.
	serverOut, err := h1.Cmd("kill -9 %iperf")
	if err != nil {
		return "", "", err
	}
	server, err = ParseIperf(serverOut)
	if err != nil {
		return "", "", err
	}
	client, err = ParseIperf(clientOut)
	if err != nil {
		return "", "", err
	}
	return server, client, nil
}

// IperfTest is a Network test: bandwidth between the first and last
// host.
func IperfTest(controllers []*node.Controller, switches []node.Switch, hosts []*node.Node) (string, error) {
	if len(hosts) < 2 {
		return "", errors.New("iperf needs at least two hosts")
	}
	server, client, err := Iperf(hosts[0], hosts[len(hosts)-1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("server: %s, client: %s", server, client), nil
}
