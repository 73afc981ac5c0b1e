package pkg

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"mnet/api"
	"mnet/pkg/check"
	"mnet/pkg/link"
	"mnet/pkg/node"
	"mnet/pkg/ovs"
	"mnet/pkg/topo"
	"mnet/pkg/util"
)

// Test is a caller-supplied network test, invoked with everything the
// network owns.
type Test func(controllers []*node.Controller, switches []node.Switch, hosts []*node.Node) (string, error)

// Options selects the datapath backend and addressing for one network.
// The backend is fixed for the network's lifetime.
type Options struct {
	Kernel        bool
	SwitchType    string // api.SwitchReference or api.SwitchOVS
	HostImage     string // non-empty: docker-backed hosts
	HostIPBase    string
	ControlIPBase string
	Link          api.LinkConfig
}

type netState int

const (
	stateBuilt netState = iota
	stateRunning
	stateStopped
)

// Network owns a built topology and drives its lifecycle: prepare,
// start, test, stop. Stop is terminal.
type Network struct {
	Controllers []*node.Controller
	Switches    []node.Switch
	Hosts       []*node.Node
	Registry    *node.Registry

	opts    Options
	lm      *link.Manager
	om      *ovs.Manager
	cm      *node.ContainerManager
	hostIPs *util.IPAllocator
	state   netState
	log     *logrus.Entry
}

// New verifies backend support, builds the topology and configures
// addressing. The returned network is ready to Start.
func New(t topo.Topo, opts Options) (*Network, error) {
	nw := &Network{
		Registry: node.NewRegistry(),
		opts:     opts,
		lm:       link.NewManager(),
		log:      logrus.WithField("net", "driver"),
	}
	var err error
	if nw.hostIPs, err = util.NewIPAllocator(opts.HostIPBase); err != nil {
		return nil, err
	}
	if opts.SwitchType == api.SwitchOVS {
		nw.om = ovs.NewManager()
	}
	if opts.HostImage != "" {
		if nw.cm, err = node.NewContainerManager(opts.HostImage); err != nil {
			return nil, err
		}
	}
	if err := nw.prepareNet(t); err != nil {
		return nil, err
	}
	return nw, nil
}

func (nw *Network) prepareNet(t topo.Topo) error {
	if err := checkDatapathSupport(readModules(), nw.opts.Kernel, nw.opts.SwitchType); err != nil {
		return err
	}
	if nw.opts.Kernel {
		nw.log.Info("*** Using kernel datapath")
	} else {
		nw.log.Info("*** Using user datapath")
	}

	nw.log.Info("*** Creating controller")
	ctl, err := node.NewController("c0", nw.opts.Kernel)
	if err != nil {
		return err
	}
	nw.Controllers = []*node.Controller{ctl}
	nw.Registry.Add(ctl.Node)

	nw.log.Info("*** Creating network")
	switches, hosts, err := t.Build(nw.buildEnv(), ctl)
	if err != nil {
		return err
	}
	nw.Switches, nw.Hosts = switches, hosts

	if !nw.opts.Kernel {
		nw.log.Info("*** Configuring control network")
		if err := nw.configureControlNetwork(); err != nil {
			return err
		}
	}
	nw.log.Info("*** Configuring hosts")
	return nw.configHosts()
}

func readModules() string {
	data, err := os.ReadFile("/proc/modules")
	if err != nil {
		logrus.Debugf("read /proc/modules: %v", err)
	}
	return string(data)
}

// checkDatapathSupport verifies the kernel side of the chosen backend
// is actually loaded before any node is created.
func checkDatapathSupport(modules string, kernel bool, switchType string) error {
	if !kernel && !strings.Contains(modules, "tun") {
		return errors.New("kernel module tun not loaded: user datapath not supported")
	}
	if kernel && switchType == api.SwitchOVS && !strings.Contains(modules, "openvswitch") {
		return errors.New("kernel module openvswitch not loaded: ovs switches not supported")
	}
	if kernel && switchType == api.SwitchReference && !strings.Contains(modules, "ofdatapath") {
		return errors.New("kernel module ofdatapath not loaded: kernel datapath not supported")
	}
	return nil
}

func (nw *Network) buildEnv() *topo.Env {
	env := topo.NewEnv(nw.opts.Kernel)
	env.NewHost = func(name string) (*node.Node, error) {
		var n *node.Node
		var err error
		if nw.cm != nil {
			n, err = nw.cm.AddHost(context.Background(), name)
		} else {
			n = node.New(name)
			err = n.Spawn(true)
		}
		if err != nil {
			return nil, err
		}
		nw.Registry.Add(n)
		return n, nil
	}
	env.NewSwitch = func(name, datapath string) (node.Switch, error) {
		var sw node.Switch
		var err error
		switch {
		case datapath == "":
			sw, err = node.NewUserSwitch(name)
		case nw.om != nil:
			sw, err = node.NewOvsSwitch(name, nw.om)
		default:
			sw, err = node.NewKernelSwitch(name, datapath)
		}
		if err != nil {
			return nil, err
		}
		nw.Registry.Add(sw.Endpoint())
		return sw, nil
	}
	env.Link = func(a, b *node.Node) (string, string, error) {
		intf1, intf2, err := nw.lm.CreateLink(a, b)
		if err != nil {
			return "", "", err
		}
		if err := nw.lm.ShapeIntf(a, intf1, nw.opts.Link); err != nil {
			return "", "", err
		}
		if err := nw.lm.ShapeIntf(b, intf2, nw.opts.Link); err != nil {
			return "", "", err
		}
		return intf1, intf2, nil
	}
	return env
}

// configureControlNetwork puts the controller and every switch on a
// routed management plane, waits for the links to come up and verifies
// reachability. Only the user datapath needs this; kernel-mode
// switches share the root namespace with the controller.
func (nw *Network) configureControlNetwork() error {
	if len(nw.Switches) == 0 {
		// Host-only topology: the controller has no management links
		// and nothing will connect to it.
		nw.log.Info("*** No switches, skipping control network")
		return nil
	}
	ips, err := util.NewIPAllocator(nw.opts.ControlIPBase)
	if err != nil {
		return err
	}
	ctl := nw.Controllers[0]
	cip, err := ips.Next()
	if err != nil {
		return errors.Wrap(err, "control address pool")
	}
	for _, sw := range nw.Switches {
		s := sw.Endpoint()
		sip, err := ips.Next()
		if err != nil {
			return errors.Wrap(err, "control address pool")
		}
		if len(s.Intfs) == 0 {
			return errors.Errorf("switch %s has no management interface", s.Name)
		}
		sintf := s.Intfs[0]
		peer, ok := s.Connections[sintf]
		if !ok || peer.Node != ctl.Node {
			return errors.Errorf("switch %s not connected to the controller", s.Name)
		}
		cintf := peer.Intf
		if _, err := ctl.SetIP(cintf, cip.String(), ips.Bits()); err != nil {
			return err
		}
		if _, err := s.SetIP(sintf, sip.String(), ips.Bits()); err != nil {
			return err
		}
		if _, err := ctl.SetHostRoute(sip.String(), cintf); err != nil {
			return err
		}
		if _, err := s.SetHostRoute(cip.String(), sintf); err != nil {
			return err
		}
	}

	nw.log.Info("*** Testing control network")
	nw.waitIntfUp(ctl.Node, ctl.Intfs[0])
	for _, sw := range nw.Switches {
		s := sw.Endpoint()
		nw.waitIntfUp(s, s.Intfs[0])
		if err := nw.verifyReachable(s, ctl.Node); err != nil {
			return err
		}
	}
	return nil
}

func (nw *Network) waitIntfUp(n *node.Node, intf string) {
	for !n.IntfIsUp(intf) {
		nw.log.Infof("*** Waiting for %s to come up", intf)
		time.Sleep(time.Second)
	}
}

// verifyReachable pings between a switch and the controller. Transient
// loss during bring-up is tolerated with a few retries; persistent
// loss aborts the setup.
func (nw *Network) verifyReachable(s, ctl *node.Node) error {
	var loss int
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Second)
		}
		var err error
		loss, err = check.PingAll([]*node.Node{s, ctl}, false)
		if err != nil {
			return err
		}
		if loss == 0 {
			return nil
		}
	}
	return errors.Errorf("control network test failed: %d%% loss between %s and %s",
		loss, s.Name, ctl.Name)
}

// configHosts assigns data-plane addresses sequentially, points each
// host's default route at its first interface and lowers the host
// shells' scheduling priority so they cannot starve real work.
func (nw *Network) configHosts() error {
	for _, h := range nw.Hosts {
		if len(h.Intfs) == 0 {
			return errors.Errorf("host %s has no interface", h.Name)
		}
		ip, err := nw.hostIPs.Next()
		if err != nil {
			return errors.Wrap(err, "host address pool")
		}
		if _, err := h.SetIP(h.Intfs[0], ip.String(), nw.hostIPs.Bits()); err != nil {
			return err
		}
		if err := h.SetDefaultRoute(h.Intfs[0]); err != nil {
			return err
		}
		if err := unix.Setpriority(unix.PRIO_PROCESS, h.Pid, 18); err != nil {
			nw.log.Debugf("renice %s: %v", h.Name, err)
		}
	}
	return nil
}

// Start launches the controller first, then every switch.
func (nw *Network) Start() error {
	if nw.state != stateBuilt {
		return errors.New("network is not in the built state")
	}
	nw.log.Info("*** Starting controller")
	for _, c := range nw.Controllers {
		if err := c.Start(); err != nil {
			return err
		}
	}
	nw.log.Infof("*** Starting %d switches", len(nw.Switches))
	for _, sw := range nw.Switches {
		if err := sw.Start(nw.Controllers[0]); err != nil {
			return err
		}
	}
	nw.state = stateRunning
	return nil
}

// Stop tears everything down in reverse dependency order: hosts, then
// switches, then the controller, so no forwarding state outlives the
// controller it references. Stop is idempotent and terminal.
func (nw *Network) Stop() error {
	if nw.state == stateStopped {
		return nil
	}
	nw.log.Info("*** Stopping hosts")
	for _, h := range nw.Hosts {
		h.Terminate()
		if nw.cm != nil {
			if err := nw.cm.RemoveHost(context.Background(), h.Name); err != nil {
				nw.log.Debugf("remove container %s: %v", h.Name, err)
			}
		}
	}
	nw.log.Info("*** Stopping switches")
	var firstErr error
	for _, sw := range nw.Switches {
		if err := sw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	nw.log.Info("*** Stopping controller")
	for _, c := range nw.Controllers {
		if err := c.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	nw.state = stateStopped
	return firstErr
}

// Run performs a full start/test/stop cycle. Teardown happens even
// when the test fails; the test's result is returned either way.
func (nw *Network) Run(test Test) (result string, err error) {
	if err := nw.Start(); err != nil {
		return "", err
	}
	defer func() {
		if stopErr := nw.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	nw.log.Info("*** Running test")
	return test(nw.Controllers, nw.Switches, nw.Hosts)
}
