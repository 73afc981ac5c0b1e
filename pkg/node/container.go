package node

import (
	"context"
	"fmt"
	"os/exec"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// ContainerManager realizes hosts as privileged docker containers
// instead of bare shells in fresh namespaces. The container only
// contributes its network namespace; the node's command channel is
// still a local bash, joined to that namespace through nsenter.
type ContainerManager struct {
	dClient *client.Client
	image   string
}

func NewContainerManager(image string) (*ContainerManager, error) {
	if _, err := exec.LookPath("nsenter"); err != nil {
		return nil, errors.Wrap(err, "nsenter not found in PATH")
	}
	dClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	return &ContainerManager{dClient: dClient, image: image}, nil
}

// AddHost creates and starts a container, then binds a Node to its
// network namespace.
func (cm *ContainerManager) AddHost(ctx context.Context, name string) (*Node, error) {
	sysctls := map[string]string{
		"net.ipv4.ip_forward":          "1",
		"net.ipv6.conf.all.forwarding": "1",
	}
	_, err := cm.dClient.ContainerCreate(ctx, &container.Config{
		Image:           cm.image,
		Cmd:             strslice.StrSlice{"sleep", "infinity"},
		NetworkDisabled: true,
		User:            "root",
	}, &container.HostConfig{
		Privileged: true,
		Sysctls:    sysctls,
	}, nil, nil, name)
	if err != nil {
		return nil, errors.Wrapf(err, "create container %s", name)
	}
	if err := cm.dClient.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return nil, errors.Wrapf(err, "start container %s", name)
	}
	res, err := cm.dClient.ContainerInspect(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect container %s", name)
	}
	nsPath := fmt.Sprintf("/proc/%d/ns/net", res.State.Pid)

	// The container starts with networking disabled, so bring loopback
	// up before any shell runs inside it.
	containerNs, err := ns.GetNS(nsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "get namespace of container %s", name)
	}
	defer containerNs.Close()
	if err := containerNs.Do(func(_ ns.NetNS) error {
		lo, err := netlink.LinkByName("lo")
		if err != nil {
			return err
		}
		return netlink.LinkSetUp(lo)
	}); err != nil {
		return nil, errors.Wrapf(err, "bring up lo in container %s", name)
	}

	n := New(name)
	if err := n.SpawnInNS(nsPath); err != nil {
		return nil, err
	}
	return n, nil
}

// RemoveHost force-removes the host's container.
func (cm *ContainerManager) RemoveHost(ctx context.Context, name string) error {
	return cm.dClient.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
}
