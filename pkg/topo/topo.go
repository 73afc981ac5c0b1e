// Package topo builds tree, grid and linear switch topologies. The
// builders are pure graph construction: node creation and link wiring
// go through an Env supplied by the network driver, and connectivity is
// only ever established via Env.Link, never by hand.
package topo

import (
	"mnet/pkg/node"
	"mnet/pkg/util"
)

// Env is everything a builder needs to materialize a topology.
type Env struct {
	// Kernel selects the kernel datapath: switches stay in the root
	// namespace and need no explicit management link to the controller.
	Kernel bool

	NewHost   func(name string) (*node.Node, error)
	NewSwitch func(name, datapath string) (node.Switch, error)
	Link      func(a, b *node.Node) (string, string, error)

	SNames  *util.NameSeq
	HNames  *util.NameSeq
	DPNames *util.NameSeq
}

// NewEnv returns an Env with the canonical name sequences (s0..,
// h0.., nl:0..) and no factories; the driver fills those in.
func NewEnv(kernel bool) *Env {
	return &Env{
		Kernel:  kernel,
		SNames:  util.NewNameSeq("s"),
		HNames:  util.NewNameSeq("h"),
		DPNames: util.NewNameSeq("nl:"),
	}
}

func (e *Env) nextDatapath() string {
	if !e.Kernel {
		return ""
	}
	return e.DPNames.Next()
}

// Topo is one buildable topology shape.
type Topo interface {
	Build(env *Env, c *node.Controller) (switches []node.Switch, hosts []*node.Node, err error)
}
