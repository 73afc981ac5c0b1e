package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawned(t *testing.T, name string) *Node {
	t.Helper()
	n := New(name)
	require.NoError(t, n.Spawn(false))
	t.Cleanup(n.Terminate)
	return n
}

func TestIntfNaming(t *testing.T) {
	n := New("h3")
	assert.Equal(t, "h3-eth0", n.NewIntf())
	assert.Equal(t, "h3-eth1", n.NewIntf())
	assert.Equal(t, 2, n.IntfCount())
	assert.Equal(t, []string{"h3-eth0", "h3-eth1"}, n.Intfs)
}

func TestCmdEcho(t *testing.T) {
	n := spawned(t, "t0")
	out, err := n.Cmd("echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestCmdSequencing(t *testing.T) {
	n := spawned(t, "t1")
	for i, want := range []string{"one\n", "two\n", "three\n"} {
		out, err := n.Cmd("echo " + want[:len(want)-1])
		require.NoError(t, err, "command %d", i)
		assert.Equal(t, want, out)
	}
}

func TestSingleOutstandingCommand(t *testing.T) {
	n := spawned(t, "t2")
	require.NoError(t, n.SendCmd("sleep 0.2"))
	err := n.SendCmd("echo too early")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outstanding")

	_, err = n.WaitOutput()
	require.NoError(t, err)
	// The node accepts commands again once the sentinel arrived.
	out, err := n.Cmd("echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestBackgroundCommand(t *testing.T) {
	n := spawned(t, "t3")
	start := time.Now()
	out, err := n.Cmd("sleep 5 &")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Less(t, time.Since(start), time.Second,
		"background command must emit the sentinel immediately")
}

func TestMonitorStreamsPartialOutput(t *testing.T) {
	n := spawned(t, "t4")
	require.NoError(t, n.SendCmd("echo first; sleep 0.3; echo second"))
	var collected string
	calls := 0
	for {
		done, data, err := n.Monitor()
		require.NoError(t, err)
		collected += data
		calls++
		if done {
			break
		}
	}
	assert.Equal(t, "first\nsecond\n", collected)
	assert.GreaterOrEqual(t, calls, 2, "output separated by a sleep arrives in chunks")
}

func TestMonitorWithoutCommand(t *testing.T) {
	n := spawned(t, "t5")
	_, _, err := n.Monitor()
	require.Error(t, err)
}

func TestExecedNode(t *testing.T) {
	n := spawned(t, "t6")
	n.MarkExeced()
	err := n.SendCmd("echo nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execed")

	done, data, err := n.Monitor()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, data)
}

func TestTerminateIdempotent(t *testing.T) {
	n := New("t7")
	require.NoError(t, n.Spawn(false))
	n.Terminate()
	n.Terminate() // second call is a no-op

	err := n.SendCmd("echo dead")
	require.Error(t, err)
}

func TestSendIntReachesForegroundCommand(t *testing.T) {
	n := spawned(t, "t9")
	// The foreground command reads the node's input stream, so the
	// interrupt byte must show up there.
	require.NoError(t, n.SendCmd("head -c1 | od -An -tx1"))
	require.NoError(t, n.SendInt())
	out, err := n.WaitOutput()
	require.NoError(t, err)
	assert.Contains(t, out, "03")
}

func TestConnectionBookkeeping(t *testing.T) {
	a, b := New("s0"), New("h0")
	ia, ib := a.NewIntf(), b.NewIntf()
	a.RecordConnection(ia, b, ib)
	b.RecordConnection(ib, a, ia)

	assert.Equal(t, Peer{Node: b, Intf: ib}, a.Connections[ia])
	assert.Equal(t, Peer{Node: a, Intf: ia}, b.Connections[ib])
}

func TestIPReturnsFirstInterfaceAddress(t *testing.T) {
	n := New("h1")
	assert.Empty(t, n.IP())
	first := n.NewIntf()
	n.NewIntf()
	n.IPs[first] = "192.168.123.1"
	assert.Equal(t, "192.168.123.1", n.IP())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	n := spawned(t, "t8")
	reg.Add(n)

	assert.Equal(t, n, reg.Get("t8"))
	assert.Nil(t, reg.Get("nope"))
	assert.Equal(t, []string{"t8"}, reg.Names())

	require.NoError(t, n.SendCmd("echo hi"))
	ready, err := reg.Poll(2 * time.Second)
	require.NoError(t, err)
	require.Contains(t, ready, n)

	out, err := n.WaitOutput()
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)
}
