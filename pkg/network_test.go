package pkg

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"mnet/pkg/node"
)

func TestControlNetworkWithoutSwitches(t *testing.T) {
	// A host-only topology in user datapath mode leaves the controller
	// without any management interface; control network setup must be
	// a no-op, not an out-of-range access.
	nw := &Network{
		Controllers: []*node.Controller{{Node: node.New("c0")}},
		opts:        Options{ControlIPBase: "10.0.123.0/24"},
		log:         logrus.WithField("net", "driver"),
	}
	require.NoError(t, nw.configureControlNetwork())
}
