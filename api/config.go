package api

import (
	"fmt"
	"net"
)

const (
	DatapathKernel = "kernel"
	DatapathUser   = "user"

	SwitchReference = "reference"
	SwitchOVS       = "ovs"

	TopoTree   = "tree"
	TopoGrid   = "grid"
	TopoLinear = "linear"
)

// TopoConfig describes one emulated network: which topology to build,
// which datapath backend the switches use and how the links behave.
type TopoConfig struct {
	Topo     string `yaml:"topo"`     // tree | grid | linear
	Datapath string `yaml:"datapath"` // kernel | user
	Switch   string `yaml:"switch"`   // reference | ovs (kernel mode only)

	// Tree parameters.
	Depth  int `yaml:"depth"`
	Fanout int `yaml:"fanout"`

	// Grid / linear parameters.
	N           int `yaml:"n"`
	M           int `yaml:"m"`
	SwitchCount int `yaml:"switchCount"`

	// HostImage, when set, runs every host as a privileged docker
	// container instead of a bash process in a fresh namespace.
	HostImage string `yaml:"hostImage"`

	// HostIPBase is the CIDR the data-plane addresses are drawn from.
	// ControlIPBase is the management plane used in user datapath mode.
	HostIPBase    string `yaml:"hostIpBase"`
	ControlIPBase string `yaml:"controlIpBase"`

	Link LinkConfig `yaml:"link"`
}

// LinkConfig holds optional shaping applied to every created link.
type LinkConfig struct {
	DelayMs  uint32  `yaml:"delay"` // in ms
	Loss     float32 `yaml:"loss"`  // in percentage
	RateMbps uint64  `yaml:"rate"`  // in mbps
}

// ApplyDefaults fills the zero values of a decoded config.
func (c *TopoConfig) ApplyDefaults() {
	if c.Topo == "" {
		c.Topo = TopoTree
	}
	if c.Datapath == "" {
		c.Datapath = DatapathKernel
	}
	if c.Switch == "" {
		c.Switch = SwitchReference
	}
	if c.Topo == TopoTree && c.Depth == 0 && c.Fanout == 0 {
		c.Depth, c.Fanout = 2, 2
	}
	if c.Topo == TopoGrid && c.N == 0 {
		c.N, c.M = 2, 2
	}
	if c.Topo == TopoGrid && c.M == 0 {
		c.M = 1
	}
	if c.Topo == TopoLinear && c.SwitchCount == 0 {
		c.SwitchCount = 2
	}
	if c.HostIPBase == "" {
		c.HostIPBase = "192.168.123.0/24"
	}
	if c.ControlIPBase == "" {
		c.ControlIPBase = "10.0.123.0/24"
	}
}

// Validate reports the first problem with the config.
func (c *TopoConfig) Validate() error {
	switch c.Topo {
	case TopoTree, TopoGrid, TopoLinear:
	default:
		return fmt.Errorf("unknown topo %q", c.Topo)
	}
	switch c.Datapath {
	case DatapathKernel, DatapathUser:
	default:
		return fmt.Errorf("unknown datapath %q", c.Datapath)
	}
	switch c.Switch {
	case SwitchReference, SwitchOVS:
	default:
		return fmt.Errorf("unknown switch type %q", c.Switch)
	}
	if c.Switch == SwitchOVS && c.Datapath != DatapathKernel {
		return fmt.Errorf("ovs switches require the kernel datapath")
	}
	if c.Depth < 0 || c.Fanout < 0 || c.N < 0 || c.M < 0 || c.SwitchCount < 0 {
		return fmt.Errorf("topology dimensions must not be negative")
	}
	for _, base := range []string{c.HostIPBase, c.ControlIPBase} {
		if _, _, err := net.ParseCIDR(base); err != nil {
			return fmt.Errorf("invalid address base %q: %v", base, err)
		}
	}
	if c.Link.Loss < 0 || c.Link.Loss > 100 {
		return fmt.Errorf("link loss must be a percentage, got %.2f", c.Link.Loss)
	}
	return nil
}
