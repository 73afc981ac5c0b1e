package topo

import "mnet/pkg/node"

// Grid is an N x M mesh of switches wired along rows and columns, with
// a host on each row end and, unless linear, each column end.
type Grid struct {
	N      int
	M      int
	Linear bool
}

// NewLinear is a grid specialized to one row: two end hosts joined by
// a chain of switches.
func NewLinear(switchCount int) Grid {
	return Grid{N: switchCount, M: 1, Linear: true}
}

func (g Grid) Build(env *Env, c *node.Controller) ([]node.Switch, []*node.Node, error) {
	linear := g.Linear && g.M == 1

	var switches []node.Switch
	var hosts []*node.Node
	rows := make([][]node.Switch, 0, g.M)
	for y := 0; y < g.M; y++ {
		row := make([]node.Switch, 0, g.N)
		for x := 0; x < g.N; x++ {
			sw, err := env.NewSwitch(env.SNames.Next(), env.nextDatapath())
			if err != nil {
				return nil, nil, err
			}
			if !env.Kernel {
				if _, _, err := env.Link(sw.Endpoint(), c.Node); err != nil {
					return nil, nil, err
				}
			}
			row = append(row, sw)
			switches = append(switches, sw)
		}
		rows = append(rows, row)
	}

	// Wire each row into a chain and attach a host to both ends.
	for _, row := range rows {
		var previous node.Switch
		for _, sw := range row {
			if previous != nil {
				if _, _, err := env.Link(sw.Endpoint(), previous.Endpoint()); err != nil {
					return nil, nil, err
				}
			}
			previous = sw
		}
		if len(row) == 0 {
			continue
		}
		h1, h2, err := g.endHosts(env, row[0], row[len(row)-1])
		if err != nil {
			return nil, nil, err
		}
		hosts = append(hosts, h1, h2)
	}
	if linear {
		return switches, hosts, nil
	}

	if g.M == 0 {
		return switches, hosts, nil
	}

	// Wire the columns the same way.
	for x := 0; x < g.N; x++ {
		var previous node.Switch
		for y := 0; y < g.M; y++ {
			sw := rows[y][x]
			if previous != nil {
				if _, _, err := env.Link(sw.Endpoint(), previous.Endpoint()); err != nil {
					return nil, nil, err
				}
			}
			previous = sw
		}
		h1, h2, err := g.endHosts(env, rows[0][x], rows[g.M-1][x])
		if err != nil {
			return nil, nil, err
		}
		hosts = append(hosts, h1, h2)
	}
	return switches, hosts, nil
}

func (g Grid) endHosts(env *Env, first, last node.Switch) (*node.Node, *node.Node, error) {
	h1, err := env.NewHost(env.HNames.Next())
	if err != nil {
		return nil, nil, err
	}
	h2, err := env.NewHost(env.HNames.Next())
	if err != nil {
		return nil, nil, err
	}
	if _, _, err := env.Link(h1, first.Endpoint()); err != nil {
		return nil, nil, err
	}
	if _, _, err := env.Link(h2, last.Endpoint()); err != nil {
		return nil, nil, err
	}
	return h1, h2, nil
}
