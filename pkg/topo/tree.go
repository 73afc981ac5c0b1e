package topo

import "mnet/pkg/node"

// Tree is a tree of switches with hosts at the leaves. Depth 0 is a
// single host; at each higher level one switch fans out to Fanout
// subtrees.
type Tree struct {
	Depth  int
	Fanout int
}

func (t Tree) Build(env *Env, c *node.Controller) ([]node.Switch, []*node.Node, error) {
	_, switches, hosts, err := t.build(env, c, t.Depth)
	return switches, hosts, err
}

// build returns the subtree root's endpoint along with the accumulated
// switch and host sets.
func (t Tree) build(env *Env, c *node.Controller, depth int) (*node.Node, []node.Switch, []*node.Node, error) {
	if depth == 0 {
		host, err := env.NewHost(env.HNames.Next())
		if err != nil {
			return nil, nil, nil, err
		}
		return host, nil, []*node.Node{host}, nil
	}
	sw, err := env.NewSwitch(env.SNames.Next(), env.nextDatapath())
	if err != nil {
		return nil, nil, nil, err
	}
	if !env.Kernel {
		// User-datapath switches need an explicit management link;
		// kernel-mode switches reach the controller over loopback.
		if _, _, err := env.Link(sw.Endpoint(), c.Node); err != nil {
			return nil, nil, nil, err
		}
	}
	switches := []node.Switch{sw}
	var hosts []*node.Node
	for i := 0; i < t.Fanout; i++ {
		child, slist, hlist, err := t.build(env, c, depth-1)
		if err != nil {
			return nil, nil, nil, err
		}
		if _, _, err := env.Link(sw.Endpoint(), child); err != nil {
			return nil, nil, nil, err
		}
		switches = append(switches, slist...)
		hosts = append(hosts, hlist...)
	}
	return sw.Endpoint(), switches, hosts, nil
}
