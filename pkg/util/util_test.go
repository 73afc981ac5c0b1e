package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPAllocatorSequence(t *testing.T) {
	a, err := NewIPAllocator("10.0.123.0/24")
	require.NoError(t, err)
	assert.Equal(t, "/24", a.Bits())

	ip, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "10.0.123.1", ip.String())

	ip, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, "10.0.123.2", ip.String())
}

func TestIPAllocatorSkipsNetworkAndBroadcast(t *testing.T) {
	a, err := NewIPAllocator("192.168.0.0/30")
	require.NoError(t, err)

	// A /30 has exactly two usable host addresses.
	ip, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.1", ip.String())

	ip, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.2", ip.String())

	_, err = a.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

func TestIPAllocatorNormalizesBlock(t *testing.T) {
	// A base with host bits set masks down to the network address.
	a, err := NewIPAllocator("192.168.123.77/24")
	require.NoError(t, err)
	ip, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "192.168.123.1", ip.String())
}

func TestIPAllocatorRejectsGarbage(t *testing.T) {
	_, err := NewIPAllocator("not-a-cidr")
	require.Error(t, err)
}

func TestNameSeq(t *testing.T) {
	s := NewNameSeq("s")
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, "s0", s.Next())
	assert.Equal(t, "s1", s.Next())
	assert.Equal(t, "s2", s.Next())
	assert.Equal(t, 3, s.Count())
}
