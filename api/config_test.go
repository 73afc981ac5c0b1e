package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var c TopoConfig
	c.ApplyDefaults()
	assert.Equal(t, TopoTree, c.Topo)
	assert.Equal(t, DatapathKernel, c.Datapath)
	assert.Equal(t, SwitchReference, c.Switch)
	assert.Equal(t, 2, c.Depth)
	assert.Equal(t, 2, c.Fanout)
	assert.Equal(t, "192.168.123.0/24", c.HostIPBase)
	assert.Equal(t, "10.0.123.0/24", c.ControlIPBase)
	require.NoError(t, c.Validate())
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	c := TopoConfig{Topo: TopoTree, Depth: 3, Fanout: 1, HostIPBase: "10.1.0.0/16"}
	c.ApplyDefaults()
	assert.Equal(t, 3, c.Depth)
	assert.Equal(t, 1, c.Fanout)
	assert.Equal(t, "10.1.0.0/16", c.HostIPBase)
}

func TestApplyDefaultsGrid(t *testing.T) {
	c := TopoConfig{Topo: TopoGrid}
	c.ApplyDefaults()
	assert.Equal(t, 2, c.N)
	assert.Equal(t, 2, c.M)

	c = TopoConfig{Topo: TopoGrid, N: 3}
	c.ApplyDefaults()
	assert.Equal(t, 3, c.N)
	assert.Equal(t, 1, c.M)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*TopoConfig)
	}{
		{"unknown topo", func(c *TopoConfig) { c.Topo = "ring" }},
		{"unknown datapath", func(c *TopoConfig) { c.Datapath = "ebpf" }},
		{"unknown switch", func(c *TopoConfig) { c.Switch = "p4" }},
		{"ovs with user datapath", func(c *TopoConfig) { c.Switch = SwitchOVS; c.Datapath = DatapathUser }},
		{"negative depth", func(c *TopoConfig) { c.Depth = -1 }},
		{"bad host base", func(c *TopoConfig) { c.HostIPBase = "256.0.0.0/8" }},
		{"loss over 100", func(c *TopoConfig) { c.Link.Loss = 101 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var c TopoConfig
			c.ApplyDefaults()
			tc.mut(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateAcceptsOvsOnKernel(t *testing.T) {
	c := TopoConfig{Switch: SwitchOVS}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())
}
