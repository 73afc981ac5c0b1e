package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnet/pkg/node"
)

func fakeManager() *Manager {
	return &Manager{
		Attempts: 3,
		Delay:    0,
		MakePair: func(intf1, intf2 string) error { return nil },
		Move:     func(intf string, n *node.Node) bool { return true },
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(3, 0, func() bool {
		calls++
		return false
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "a failing operation runs exactly n times")
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(5, 0, func() bool {
		calls++
		return calls == 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCreateLinkSymmetry(t *testing.T) {
	lm := fakeManager()
	a, b := node.New("s0"), node.New("h0")

	intf1, intf2, err := lm.CreateLink(a, b)
	require.NoError(t, err)
	assert.Equal(t, "s0-eth0", intf1)
	assert.Equal(t, "h0-eth0", intf2)

	assert.Equal(t, node.Peer{Node: b, Intf: intf2}, a.Connections[intf1])
	assert.Equal(t, node.Peer{Node: a, Intf: intf1}, b.Connections[intf2])
}

func TestCreateLinkMovesOnlyNamespacedEndpoints(t *testing.T) {
	lm := fakeManager()
	var moved []string
	lm.Move = func(intf string, n *node.Node) bool {
		moved = append(moved, intf)
		return true
	}
	a, b := node.New("s0"), node.New("h0")
	b.InNamespace = true

	_, _, err := lm.CreateLink(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"h0-eth0"}, moved,
		"root-namespace endpoints are never moved")
}

func TestCreateLinkMoveFailureIsBounded(t *testing.T) {
	lm := fakeManager()
	calls := 0
	lm.Move = func(intf string, n *node.Node) bool {
		calls++
		return false
	}
	a, b := node.New("s0"), node.New("h0")
	a.InNamespace = true

	_, _, err := lm.CreateLink(a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "move s0-eth0 into s0")
	assert.Equal(t, lm.Attempts, calls)
}

func TestCreateLinkPairFailurePropagates(t *testing.T) {
	lm := fakeManager()
	lm.MakePair = func(intf1, intf2 string) error {
		return assert.AnError
	}
	a, b := node.New("s0"), node.New("h0")

	_, _, err := lm.CreateLink(a, b)
	require.Error(t, err)
	assert.Empty(t, a.Connections)
	assert.Empty(t, b.Connections)
}

func TestInterfaceNamesNeverReused(t *testing.T) {
	lm := fakeManager()
	a, b := node.New("s0"), node.New("h0")

	i1, _, err := lm.CreateLink(a, b)
	require.NoError(t, err)
	i2, _, err := lm.CreateLink(a, b)
	require.NoError(t, err)
	assert.NotEqual(t, i1, i2)
	assert.Equal(t, []string{"s0-eth0", "s0-eth1"}, a.Intfs)
}
