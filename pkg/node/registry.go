package node

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Registry maps node names and output descriptors back to their Nodes.
// It is owned by the network driver and is the one place fd lookup
// happens; nodes themselves carry no global state.
type Registry struct {
	byName map[string]*Node
	byFD   map[int]*Node
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Node),
		byFD:   make(map[int]*Node),
	}
}

// Add registers a node by name and, if its shell is running, by its
// output descriptor.
func (r *Registry) Add(n *Node) {
	r.byName[n.Name] = n
	if fd, ok := n.OutFd(); ok {
		r.byFD[fd] = n
	}
}

// Get returns the node with the given name, or nil.
func (r *Registry) Get(name string) *Node {
	return r.byName[name]
}

// Names returns all registered node names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Poll blocks until at least one registered node has readable output,
// or the timeout passes, and returns the ready nodes. This is the
// driver's way of supervising many background shells one chunk at a
// time without busy-looping.
func (r *Registry) Poll(timeout time.Duration) ([]*Node, error) {
	fds := make([]unix.PollFd, 0, len(r.byFD))
	for fd := range r.byFD {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	if len(fds) == 0 {
		return nil, errors.New("no pollable nodes registered")
	}
	ms := int(timeout / time.Millisecond)
	for {
		m, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "poll nodes")
		}
		if m == 0 {
			return nil, nil
		}
		break
	}
	var ready []*Node
	for _, pfd := range fds {
		if pfd.Revents&unix.POLLIN != 0 {
			ready = append(ready, r.byFD[int(pfd.Fd)])
		}
	}
	return ready, nil
}
