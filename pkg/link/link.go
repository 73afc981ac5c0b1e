package link

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"mnet/pkg/node"
)

const (
	// moveAttempts bounds the retries of a namespace move. Moves race
	// against interface registration under load; a handful of short
	// retries absorbs that, while repeated failure is a real problem.
	moveAttempts = 3
	moveDelay    = 100 * time.Microsecond
)

// Manager creates veth pairs and places their endpoints into node
// namespaces. The kernel-facing operations are function fields so that
// topology construction can be exercised without privileges.
type Manager struct {
	MakePair func(intf1, intf2 string) error
	Move     func(intf string, n *node.Node) bool

	Attempts int
	Delay    time.Duration
}

func NewManager() *Manager {
	m := &Manager{Attempts: moveAttempts, Delay: moveDelay}
	m.MakePair = m.makeIntfPair
	m.Move = m.moveIntf
	return m
}

// makeIntfPair deletes any stale interfaces with these names, then
// creates a fresh veth pair. Creation failure is fatal: it means a
// naming collision or missing kernel support, not a transient race.
func (m *Manager) makeIntfPair(intf1, intf2 string) error {
	for _, name := range []string{intf1, intf2} {
		if link, err := netlink.LinkByName(name); err == nil {
			if err := netlink.LinkDel(link); err != nil {
				logrus.WithField("intf", name).Debugf("stale delete: %v", err)
			}
		}
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = intf1
	attrs.MTU = 1500
	attrs.Flags = net.FlagUp
	veth := &netlink.Veth{LinkAttrs: attrs, PeerName: intf2}
	if err := netlink.LinkAdd(veth); err != nil {
		return errors.Wrapf(err, "create veth pair %s <-> %s", intf1, intf2)
	}
	return nil
}

// moveIntf moves intf into the node's namespace and verifies the move
// by listing the interfaces the node itself can see.
func (m *Manager) moveIntf(intf string, n *node.Node) bool {
	link, err := netlink.LinkByName(intf)
	if err != nil {
		logrus.WithField("intf", intf).Debugf("lookup: %v", err)
		return false
	}
	nsh, err := n.NetNS()
	if err != nil {
		logrus.WithField("intf", intf).Debugf("target namespace: %v", err)
		return false
	}
	defer nsh.Close()
	if err := netlink.LinkSetNsFd(link, int(nsh)); err != nil {
		logrus.WithField("intf", intf).Debugf("set netns: %v", err)
		return false
	}
	links, err := n.Cmd("ip link show")
	if err != nil {
		return false
	}
	return strings.Contains(links, intf)
}

// Retry runs op up to n times, sleeping delay between attempts, and
// fails once the budget is spent.
func Retry(n int, delay time.Duration, op func() bool) error {
	for i := 0; i < n; i++ {
		if op() {
			return nil
		}
		if i < n-1 {
			time.Sleep(delay)
		}
	}
	return errors.Errorf("gave up after %d tries", n)
}

// CreateLink allocates one interface name from each node, creates the
// veth pair and moves each end into its node's namespace if the node
// has one. Endpoints staying in the root namespace are not moved. On
// success both nodes record the connection symmetrically.
func (m *Manager) CreateLink(n1, n2 *node.Node) (string, string, error) {
	intf1 := n1.NewIntf()
	intf2 := n2.NewIntf()
	if err := m.MakePair(intf1, intf2); err != nil {
		return "", "", err
	}
	if n1.InNamespace {
		if err := Retry(m.Attempts, m.Delay, func() bool { return m.Move(intf1, n1) }); err != nil {
			return "", "", errors.Wrapf(err, "move %s into %s", intf1, n1.Name)
		}
	}
	if n2.InNamespace {
		if err := Retry(m.Attempts, m.Delay, func() bool { return m.Move(intf2, n2) }); err != nil {
			return "", "", errors.Wrapf(err, "move %s into %s", intf2, n2.Name)
		}
	}
	n1.RecordConnection(intf1, n2, intf2)
	n2.RecordConnection(intf2, n1, intf1)
	return intf1, intf2, nil
}
