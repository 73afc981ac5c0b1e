package node

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

const (
	// sentinel is echoed by the shell after every command so that the
	// unframed output stream can be cut into per-command messages.
	sentinel = byte(0x7F)

	readChunk = 1024
)

// Peer is the far end of a point-to-point link: the remote node and the
// name of its interface.
type Peer struct {
	Node *Node
	Intf string
}

// Node is a virtual network endpoint: a shell process, optionally in
// its own network namespace, talked to over pipes. Commands run through
// the sentinel protocol, strictly one at a time per node.
type Node struct {
	Name        string
	InNamespace bool
	Pid         int

	// Intfs lists interface names in allocation order; index 0 is the
	// management interface for user-datapath switches.
	Intfs       []string
	IPs         map[string]string
	Connections map[string]Peer

	shell  *exec.Cmd
	stdin  *os.File
	stdout *os.File

	intfCount int
	waiting   bool
	execed    bool

	log *logrus.Entry
}

// New creates a node with empty bookkeeping and no process. Call Spawn
// or SpawnInNS before sending commands.
func New(name string) *Node {
	return &Node{
		Name:        name,
		IPs:         make(map[string]string),
		Connections: make(map[string]Peer),
		log:         logrus.WithField("node", name),
	}
}

// Spawn starts the node's shell. With inNamespace the shell gets a
// fresh network namespace of its own.
func (n *Node) Spawn(inNamespace bool) error {
	var attr *syscall.SysProcAttr
	if inNamespace {
		attr = &syscall.SysProcAttr{Cloneflags: syscall.CLONE_NEWNET}
	}
	if err := n.spawn(attr, "/bin/bash"); err != nil {
		return err
	}
	n.InNamespace = inNamespace
	return nil
}

// SpawnInNS starts the node's shell joined to an existing network
// namespace, e.g. a container's. Requires nsenter on the PATH.
func (n *Node) SpawnInNS(nsPath string) error {
	if err := n.spawn(nil, "nsenter", "--net="+nsPath, "/bin/bash"); err != nil {
		return err
	}
	n.InNamespace = true
	return nil
}

func (n *Node) spawn(attr *syscall.SysProcAttr, argv ...string) error {
	if n.shell != nil {
		return errors.Errorf("node %s already has a shell", n.Name)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = attr

	inR, inW, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "stdin pipe")
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return errors.Wrap(err, "stdout pipe")
	}
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = outW // fold stderr into the command output stream

	if err := cmd.Start(); err != nil {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return errors.Wrapf(err, "start shell for %s", n.Name)
	}
	// Child keeps its own pipe ends.
	inR.Close()
	outW.Close()

	n.shell = cmd
	n.stdin = inW
	n.stdout = outR
	n.Pid = cmd.Process.Pid
	n.log.Debugf("spawned shell pid %d", n.Pid)
	return nil
}

// Write sends raw bytes to the shell's input stream.
func (n *Node) Write(data []byte) error {
	if n.shell == nil {
		return errors.Errorf("node %s has no shell", n.Name)
	}
	_, err := n.stdin.Write(data)
	return errors.Wrapf(err, "write to %s", n.Name)
}

func (n *Node) waitReadable() error {
	fds := []unix.PollFd{{Fd: int32(n.stdout.Fd()), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		return errors.Wrapf(err, "poll %s", n.Name)
	}
}

// readSome blocks until the shell has produced output, then reads one
// bounded chunk of it.
func (n *Node) readSome() ([]byte, error) {
	buf := make([]byte, readChunk)
	for {
		if err := n.waitReadable(); err != nil {
			return nil, err
		}
		m, err := unix.Read(int(n.stdout.Fd()), buf)
		if err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read from %s", n.Name)
		}
		if m == 0 {
			return nil, errors.Errorf("node %s: shell closed its output", n.Name)
		}
		return buf[:m], nil
	}
}

// SendCmd writes a command line to the shell, followed by a directive
// that prints the sentinel once the command completes. A trailing "&"
// runs the command in the background and emits the sentinel right away.
// Only one command may be outstanding per node.
func (n *Node) SendCmd(cmdline string) error {
	if n.execed {
		return errors.Errorf("node %s has execed and cannot accept commands", n.Name)
	}
	if n.shell == nil {
		return errors.Errorf("node %s has no shell", n.Name)
	}
	if n.waiting {
		return errors.Errorf("node %s: command already outstanding", n.Name)
	}
	separator := ";"
	if strings.HasSuffix(cmdline, "&") {
		separator = "&"
		cmdline = strings.TrimSuffix(cmdline, "&")
	}
	if err := n.Write([]byte(cmdline + separator + " printf '\\177'\n")); err != nil {
		return err
	}
	n.waiting = true
	return nil
}

// Monitor returns one chunk of a running command's output. done is true
// exactly when the chunk ends with the sentinel, which is stripped.
// Execed nodes report completion immediately with empty output.
func (n *Node) Monitor() (done bool, data string, err error) {
	if n.execed {
		return true, "", nil
	}
	if !n.waiting {
		return false, "", errors.Errorf("node %s: no command outstanding", n.Name)
	}
	chunk, err := n.readSome()
	if err != nil {
		return false, "", err
	}
	if chunk[len(chunk)-1] == sentinel {
		n.waiting = false
		return true, string(chunk[:len(chunk)-1]), nil
	}
	return false, string(chunk), nil
}

// WaitOutput collects output until the sentinel arrives.
func (n *Node) WaitOutput() (string, error) {
	var out strings.Builder
	for {
		done, data, err := n.Monitor()
		if err != nil {
			return out.String(), err
		}
		out.WriteString(data)
		if done {
			return out.String(), nil
		}
	}
}

// Cmd runs a command to completion and returns its full output,
// trailing newline included.
func (n *Node) Cmd(cmdline string) (string, error) {
	if err := n.SendCmd(cmdline); err != nil {
		return "", err
	}
	return n.WaitOutput()
}

// CmdPrint runs a command, logging it and its output.
func (n *Node) CmdPrint(cmdline string) (string, error) {
	n.log.Infof("*** %s : %s", n.Name, cmdline)
	out, err := n.Cmd(cmdline)
	if err == nil {
		n.log.Info(out)
	}
	return out, err
}

// SendInt writes ^C to the shell, hopefully interrupting a running
// foreground command.
func (n *Node) SendInt() error {
	return n.Write([]byte{0x03})
}

// MarkExeced records that the shell replaced itself with a forwarding
// binary. Further SendCmd calls fail fast instead of corrupting a dead
// channel.
func (n *Node) MarkExeced() { n.execed = true }

// Terminate force-kills the shell and releases its pipes. Calling it
// again is a no-op.
func (n *Node) Terminate() {
	if n.shell == nil {
		return
	}
	if err := unix.Kill(n.Pid, unix.SIGKILL); err != nil {
		n.log.Debugf("kill: %v", err)
	}
	_ = n.shell.Wait() // reap; "signal: killed" is the expected outcome
	n.stdin.Close()
	n.stdout.Close()
	n.shell = nil
	n.waiting = false
}

// OutFd exposes the output stream descriptor for registry polling.
func (n *Node) OutFd() (int, bool) {
	if n.shell == nil {
		return 0, false
	}
	return int(n.stdout.Fd()), true
}

// NetNS returns a handle on the node's network namespace. The caller
// closes it.
func (n *Node) NetNS() (netns.NsHandle, error) {
	if n.Pid == 0 {
		return netns.None(), errors.Errorf("node %s has no process", n.Name)
	}
	return netns.GetFromPid(n.Pid)
}

// Interface management. Interfaces are plain strings of the canonical
// form {nodeName}-eth{N}.

func (n *Node) IntfName(i int) string {
	return fmt.Sprintf("%s-eth%d", n.Name, i)
}

// NewIntf reserves and returns the next interface name for this node.
// Names are never reused within a node's lifetime.
func (n *Node) NewIntf() string {
	name := n.IntfName(n.intfCount)
	n.intfCount++
	n.Intfs = append(n.Intfs, name)
	return name
}

func (n *Node) IntfCount() int { return n.intfCount }

// RecordConnection notes the peer endpoint reachable through intf.
func (n *Node) RecordConnection(intf string, peer *Node, peerIntf string) {
	n.Connections[intf] = Peer{Node: peer, Intf: peerIntf}
}

// SetIP assigns an address to an interface and brings it up.
func (n *Node) SetIP(intf, ip, bits string) (string, error) {
	out, err := n.Cmd(fmt.Sprintf("ifconfig %s %s%s up", intf, ip, bits))
	if err != nil {
		return out, err
	}
	n.IPs[intf] = ip
	return out, nil
}

// SetHostRoute adds a host route to ip through intf.
func (n *Node) SetHostRoute(ip, intf string) (string, error) {
	return n.Cmd(fmt.Sprintf("route add -host %s dev %s", ip, intf))
}

// SetDefaultRoute points all traffic through intf.
func (n *Node) SetDefaultRoute(intf string) error {
	if _, err := n.Cmd("ip route flush table main"); err != nil {
		return err
	}
	_, err := n.Cmd("ip route add default dev " + intf)
	return err
}

// IP returns the address of the node's first interface, or "".
func (n *Node) IP() string {
	if len(n.Intfs) == 0 {
		return ""
	}
	return n.IPs[n.Intfs[0]]
}

// IntfIsUp reports whether the named interface is administratively up,
// as seen from inside the node.
func (n *Node) IntfIsUp(intf string) bool {
	out, err := n.Cmd("ip -j link show dev " + intf)
	if err != nil {
		return false
	}
	for _, flag := range gjson.Get(out, "0.flags").Array() {
		if flag.String() == "UP" {
			return true
		}
	}
	return false
}

func (n *Node) String() string {
	s := n.Name + ":"
	if ip := n.IP(); ip != "" {
		s += " IP=" + ip
	}
	s += " intfs=" + strings.Join(n.Intfs, ",")
	if n.waiting {
		s += " waiting"
	}
	return s
}
