package ovs

import (
	"github.com/digitalocean/go-openvswitch/ovs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"mnet/pkg/util"
)

// Manager wraps one ovs-vsctl client shared by all OVS-backed switches.
type Manager struct {
	client *ovs.Client
}

func NewManager() *Manager {
	return &Manager{client: ovs.New()}
}

// EnsureBridge creates a fresh bridge, removing any stale one of the
// same name left behind by an earlier run.
func (m *Manager) EnsureBridge(name string) error {
	if err := m.client.VSwitch.DeleteBridge(name); err != nil {
		logrus.WithField("bridge", name).Debugf("stale bridge delete: %v", err)
	}
	if err := m.client.VSwitch.AddBridge(name); err != nil {
		return errors.Wrapf(err, "add bridge %s", name)
	}
	return nil
}

func (m *Manager) DeleteBridge(name string) error {
	return m.client.VSwitch.DeleteBridge(name)
}

// AddPort brings an interface up and attaches it to the bridge.
func (m *Manager) AddPort(bridge, port string) error {
	link, err := netlink.LinkByName(port)
	if err != nil {
		return errors.Wrapf(err, "find port %s", port)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "bring up %s", port)
	}
	if err := m.client.VSwitch.AddPort(bridge, port); err != nil {
		return errors.Wrapf(err, "add %s to bridge %s", port, bridge)
	}
	return nil
}

// SetController points the bridge at an OpenFlow controller target.
// The client library has no wrapper for this, so it goes through
// ovs-vsctl directly.
func (m *Manager) SetController(bridge, target string) error {
	return util.CheckRun("ovs-vsctl set-controller " + bridge + " " + target)
}
