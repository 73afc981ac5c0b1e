package topo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnet/pkg/link"
	"mnet/pkg/node"
)

type fakeSwitch struct {
	n  *node.Node
	dp string
}

func (f fakeSwitch) Endpoint() *node.Node           { return f.n }
func (f fakeSwitch) Start(c *node.Controller) error { return nil }
func (f fakeSwitch) Stop() error                    { return nil }

// testEnv wires the builders to pure bookkeeping: links are recorded
// but no kernel resources are touched.
func testEnv(kernel bool) *Env {
	lm := &link.Manager{
		Attempts: 1,
		MakePair: func(intf1, intf2 string) error { return nil },
		Move:     func(intf string, n *node.Node) bool { return true },
	}
	env := NewEnv(kernel)
	env.NewHost = func(name string) (*node.Node, error) {
		return node.New(name), nil
	}
	env.NewSwitch = func(name, datapath string) (node.Switch, error) {
		return fakeSwitch{n: node.New(name), dp: datapath}, nil
	}
	env.Link = lm.CreateLink
	return env
}

func controller() *node.Controller {
	return &node.Controller{Node: node.New("c0")}
}

// assertSymmetric checks the connectivity invariant: every interface of
// every node maps to a peer whose own entry points straight back.
func assertSymmetric(t *testing.T, switches []node.Switch, hosts []*node.Node) {
	t.Helper()
	nodes := make([]*node.Node, 0, len(switches)+len(hosts))
	for _, sw := range switches {
		nodes = append(nodes, sw.Endpoint())
	}
	nodes = append(nodes, hosts...)
	for _, n := range nodes {
		for _, intf := range n.Intfs {
			peer, ok := n.Connections[intf]
			require.True(t, ok, "%s: %s has no recorded peer", n.Name, intf)
			back, ok := peer.Node.Connections[peer.Intf]
			require.True(t, ok, "%s: no backlink via %s", peer.Node.Name, peer.Intf)
			assert.Equal(t, n, back.Node)
			assert.Equal(t, intf, back.Intf)
		}
	}
}

func TestTreeDepthZeroIsASingleHost(t *testing.T) {
	for _, fanout := range []int{0, 1, 5} {
		switches, hosts, err := Tree{Depth: 0, Fanout: fanout}.Build(testEnv(true), controller())
		require.NoError(t, err)
		assert.Empty(t, switches)
		require.Len(t, hosts, 1)
		assert.Equal(t, "h0", hosts[0].Name)
	}
}

func TestTreeDepth2Fanout2(t *testing.T) {
	switches, hosts, err := Tree{Depth: 2, Fanout: 2}.Build(testEnv(true), controller())
	require.NoError(t, err)
	assert.Len(t, switches, 3, "one root plus two children")
	assert.Len(t, hosts, 4)
	assert.Equal(t, "s0", switches[0].Endpoint().Name)
	assert.Equal(t, "h3", hosts[3].Name)
	assertSymmetric(t, switches, hosts)

	// The root switch carries one link per subtree.
	root := switches[0].Endpoint()
	assert.Len(t, root.Intfs, 2)
}

func TestTreeKernelModeAllocatesDatapathIDs(t *testing.T) {
	switches, _, err := Tree{Depth: 1, Fanout: 1}.Build(testEnv(true), controller())
	require.NoError(t, err)
	require.Len(t, switches, 1)
	assert.Equal(t, "nl:0", switches[0].(fakeSwitch).dp)
}

func TestTreeUserModeLinksSwitchesToController(t *testing.T) {
	ctl := controller()
	switches, hosts, err := Tree{Depth: 1, Fanout: 2}.Build(testEnv(false), ctl)
	require.NoError(t, err)
	require.Len(t, switches, 1)
	assert.Len(t, hosts, 2)

	s := switches[0].Endpoint()
	assert.Empty(t, switches[0].(fakeSwitch).dp)
	// Interface 0 is the management link to the controller.
	require.NotEmpty(t, s.Intfs)
	peer := s.Connections[s.Intfs[0]]
	assert.Equal(t, ctl.Node, peer.Node)
	assertSymmetric(t, switches, hosts)
}

func TestLinearThreeSwitchChain(t *testing.T) {
	switches, hosts, err := NewLinear(3).Build(testEnv(true), controller())
	require.NoError(t, err)
	require.Len(t, switches, 3)
	require.Len(t, hosts, 2)
	assertSymmetric(t, switches, hosts)

	s0 := switches[0].Endpoint()
	s1 := switches[1].Endpoint()
	s2 := switches[2].Endpoint()
	// One host on each chain end.
	assert.Equal(t, s0, hosts[0].Connections[hosts[0].Intfs[0]].Node)
	assert.Equal(t, s2, hosts[1].Connections[hosts[1].Intfs[0]].Node)
	// The middle switch connects to both neighbors.
	peers := map[string]bool{}
	for _, intf := range s1.Intfs {
		peers[s1.Connections[intf].Node.Name] = true
	}
	assert.True(t, peers[s0.Name])
	assert.True(t, peers[s2.Name])
}

func TestGrid2x2(t *testing.T) {
	switches, hosts, err := Grid{N: 2, M: 2}.Build(testEnv(true), controller())
	require.NoError(t, err)
	assert.Len(t, switches, 4)
	assert.Len(t, hosts, 8, "two hosts per row end and per column end")
	assertSymmetric(t, switches, hosts)
	for _, h := range hosts {
		assert.Len(t, h.Intfs, 1)
	}
}

func TestDegenerateDimensions(t *testing.T) {
	switches, hosts, err := Grid{N: 0, M: 2}.Build(testEnv(true), controller())
	require.NoError(t, err)
	assert.Empty(t, switches)
	assert.Empty(t, hosts)

	switches, hosts, err = Grid{N: 2, M: 0}.Build(testEnv(true), controller())
	require.NoError(t, err)
	assert.Empty(t, switches)
	assert.Empty(t, hosts)
}
