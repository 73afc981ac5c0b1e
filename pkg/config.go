package pkg

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"mnet/api"
	"mnet/pkg/topo"
)

// LoadConfig reads, defaults and validates a topology config file.
func LoadConfig(path string) (*api.TopoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read topology config")
	}
	var cfg api.TopoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal topology config")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewFromConfig builds a network from a topology config.
func NewFromConfig(cfg *api.TopoConfig) (*Network, error) {
	var t topo.Topo
	switch cfg.Topo {
	case api.TopoTree:
		t = topo.Tree{Depth: cfg.Depth, Fanout: cfg.Fanout}
	case api.TopoGrid:
		t = topo.Grid{N: cfg.N, M: cfg.M}
	case api.TopoLinear:
		t = topo.NewLinear(cfg.SwitchCount)
	default:
		return nil, errors.Errorf("unknown topo %q", cfg.Topo)
	}
	return New(t, Options{
		Kernel:        cfg.Datapath == api.DatapathKernel,
		SwitchType:    cfg.Switch,
		HostImage:     cfg.HostImage,
		HostIPBase:    cfg.HostIPBase,
		ControlIPBase: cfg.ControlIPBase,
		Link:          cfg.Link,
	})
}
