package node

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"mnet/pkg/ovs"
	"mnet/pkg/util"
)

// Switch is the common surface of the datapath backends. The variant is
// chosen once at construction; nothing re-checks it afterwards.
type Switch interface {
	// Endpoint returns the node carrying the switch's interfaces,
	// connections and command channel.
	Endpoint() *Node
	Start(c *Controller) error
	Stop() error
}

// UserSwitch runs the user-space reference datapath (ofdatapath +
// ofprotocol) in its own namespace. Interface 0 is the management link
// to the controller; the rest carry traffic.
type UserSwitch struct {
	*Node
}

func NewUserSwitch(name string) (*UserSwitch, error) {
	s := &UserSwitch{Node: New(name)}
	if err := s.Spawn(true); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UserSwitch) Endpoint() *Node { return s.Node }

func (s *UserSwitch) Start(c *Controller) error {
	ofdlog := "/tmp/" + s.Name + "-ofd.log"
	ofplog := "/tmp/" + s.Name + "-ofp.log"
	if _, err := s.Cmd("ifconfig lo up"); err != nil {
		return err
	}
	var intfs []string
	if len(s.Intfs) > 1 {
		intfs = s.Intfs[1:] // 0 is the management interface
	}
	if _, err := s.CmdPrint(fmt.Sprintf("ofdatapath -i %s ptcp: 1> %s 2> %s &",
		strings.Join(intfs, ","), ofdlog, ofdlog)); err != nil {
		return err
	}
	_, err := s.CmdPrint(fmt.Sprintf("ofprotocol tcp:%s tcp:localhost --fail=closed 1> %s 2> %s &",
		c.IP(), ofplog, ofplog))
	return err
}

func (s *UserSwitch) Stop() error {
	if _, err := s.Cmd("kill %ofdatapath"); err != nil {
		return err
	}
	if _, err := s.Cmd("kill %ofprotocol"); err != nil {
		return err
	}
	s.Terminate()
	return nil
}

// KernelSwitch drives the reference kernel datapath through dpctl. The
// switch shell stays in the root namespace and its protocol agent
// reaches the controller over loopback.
type KernelSwitch struct {
	*Node
	Datapath string // kernel datapath id, e.g. nl:0
}

func NewKernelSwitch(name, datapath string) (*KernelSwitch, error) {
	s := &KernelSwitch{Node: New(name), Datapath: datapath}
	if err := s.Spawn(false); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KernelSwitch) Endpoint() *Node { return s.Node }

func (s *KernelSwitch) Start(c *Controller) error {
	ofplog := "/tmp/" + s.Name + "-ofp.log"
	util.QuietRun("ifconfig lo up")
	// A stale datapath from an earlier run would make adddp fail.
	util.QuietRun("dpctl deldp " + s.Datapath)
	if _, err := s.CmdPrint("dpctl adddp " + s.Datapath); err != nil {
		return err
	}
	if len(s.Intfs) > 0 {
		if _, err := s.CmdPrint("dpctl addif " + s.Datapath + " " + strings.Join(s.Intfs, " ")); err != nil {
			return err
		}
	}
	_, err := s.CmdPrint(fmt.Sprintf("ofprotocol %s tcp:127.0.0.1 --fail=closed 1> %s 2> %s &",
		s.Datapath, ofplog, ofplog))
	return err
}

func (s *KernelSwitch) Stop() error {
	util.QuietRun("dpctl deldp " + s.Datapath)
	if _, err := s.Cmd("kill %ofprotocol"); err != nil {
		return err
	}
	// The kernel removes datapath interfaces eventually, but slowly
	// enough to race a following setup. Remove them now.
	s.removeIntfs()
	s.Terminate()
	return nil
}

func (s *KernelSwitch) removeIntfs() { removeIntfs(s.Intfs, s.log) }

// OvsSwitch realizes the switch as an Open vSwitch bridge in the root
// namespace, managed over ovs-vsctl.
type OvsSwitch struct {
	*Node
	Bridge string
	om     *ovs.Manager
}

func NewOvsSwitch(name string, om *ovs.Manager) (*OvsSwitch, error) {
	s := &OvsSwitch{Node: New(name), Bridge: name, om: om}
	if err := s.Spawn(false); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *OvsSwitch) Endpoint() *Node { return s.Node }

func (s *OvsSwitch) Start(c *Controller) error {
	if err := s.om.EnsureBridge(s.Bridge); err != nil {
		return err
	}
	for _, intf := range s.Intfs {
		if err := s.om.AddPort(s.Bridge, intf); err != nil {
			return err
		}
	}
	return s.om.SetController(s.Bridge, "tcp:127.0.0.1:6633")
}

func (s *OvsSwitch) Stop() error {
	if err := s.om.DeleteBridge(s.Bridge); err != nil {
		s.log.Debugf("delete bridge: %v", err)
	}
	s.removeIntfs()
	s.Terminate()
	return nil
}

func (s *OvsSwitch) removeIntfs() { removeIntfs(s.Intfs, s.log) }

func removeIntfs(intfs []string, log *logrus.Entry) {
	for _, intf := range intfs {
		link, err := netlink.LinkByName(intf)
		if err != nil {
			continue // already gone
		}
		if err := netlink.LinkDel(link); err != nil {
			log.Debugf("delete %s: %v", intf, err)
		}
	}
}
