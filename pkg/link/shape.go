package link

import (
	"fmt"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"

	"mnet/api"
	"mnet/pkg/node"
)

// ShapeIntf applies delay/loss/rate shaping to one link endpoint,
// entering the owning node's namespace when it has one. A zero config
// is a no-op.
func (m *Manager) ShapeIntf(n *node.Node, intf string, cfg api.LinkConfig) error {
	if cfg.DelayMs == 0 && cfg.Loss == 0 && cfg.RateMbps == 0 {
		return nil
	}
	if !n.InNamespace {
		return shape(intf, cfg)
	}
	nsPath := fmt.Sprintf("/proc/%d/ns/net", n.Pid)
	netNs, err := ns.GetNS(nsPath)
	if err != nil {
		return errors.Wrapf(err, "get namespace of %s", n.Name)
	}
	defer netNs.Close()
	return netNs.Do(func(_ ns.NetNS) error {
		return shape(intf, cfg)
	})
}

// shape installs the qdiscs on intf in the current namespace. With a
// rate limit the layout is HTB root -> class 1:1 -> netem; without one
// a netem root qdisc is enough.
func shape(intf string, cfg api.LinkConfig) error {
	link, err := netlink.LinkByName(intf)
	if err != nil {
		return errors.Wrapf(err, "find %s", intf)
	}
	index := link.Attrs().Index

	if cfg.RateMbps == 0 {
		netem := netlink.NewNetem(netlink.QdiscAttrs{
			LinkIndex: index,
			Handle:    netlink.MakeHandle(1, 0),
			Parent:    netlink.HANDLE_ROOT,
		}, netemAttrs(cfg))
		if err := netlink.QdiscAdd(netem); err != nil {
			return errors.Wrapf(err, "add netem qdisc on %s", intf)
		}
		return nil
	}

	qdisc := netlink.NewHtb(netlink.QdiscAttrs{
		LinkIndex: index,
		Handle:    netlink.MakeHandle(1, 0),
		Parent:    netlink.HANDLE_ROOT,
	})
	qdisc.Defcls = 1
	if err := netlink.QdiscAdd(qdisc); err != nil {
		return errors.Wrapf(err, "add HTB root qdisc on %s", intf)
	}
	class := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: index,
		Handle:    netlink.MakeHandle(1, 1),
		Parent:    netlink.MakeHandle(1, 0),
	}, netlink.HtbClassAttrs{
		Rate:   cfg.RateMbps * 1024 * 1024,
		Buffer: 10000,
		Prio:   1,
	})
	if err := netlink.ClassAdd(class); err != nil {
		return errors.Wrapf(err, "add HTB class on %s", intf)
	}
	if cfg.DelayMs > 0 || cfg.Loss > 0 {
		netem := netlink.NewNetem(netlink.QdiscAttrs{
			LinkIndex: index,
			Handle:    netlink.MakeHandle(10, 0),
			Parent:    netlink.MakeHandle(1, 1),
		}, netemAttrs(cfg))
		if err := netlink.QdiscAdd(netem); err != nil {
			return errors.Wrapf(err, "add netem qdisc on %s", intf)
		}
	}
	return nil
}

func netemAttrs(cfg api.LinkConfig) netlink.NetemQdiscAttrs {
	return netlink.NetemQdiscAttrs{
		Latency: cfg.DelayMs * 1000, // in us
		Loss:    cfg.Loss,
		Limit:   300000,
	}
}
