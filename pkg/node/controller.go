package node

import "fmt"

// Controller is a node running an OpenFlow controller binary. In kernel
// datapath mode it lives in the root namespace and switches reach it
// over loopback; in user mode it gets its own namespace and a
// management interface on the control network.
type Controller struct {
	*Node
	Binary string
	Args   string
	Dir    string
}

// NewController spawns the controller shell. kernel selects the root
// namespace.
func NewController(name string, kernel bool) (*Controller, error) {
	c := &Controller{
		Node:   New(name),
		Binary: "controller",
		Args:   "-v ptcp:",
	}
	if err := c.Spawn(!kernel); err != nil {
		return nil, err
	}
	return c, nil
}

// Start launches the controller binary in the background, logging to
// /tmp/{name}.log. Failure to start is reported, not recovered.
func (c *Controller) Start() error {
	if c.Dir != "" {
		if _, err := c.Cmd("cd " + c.Dir); err != nil {
			return err
		}
	}
	logf := "/tmp/" + c.Name + ".log"
	_, err := c.CmdPrint(fmt.Sprintf("%s %s 1> %s 2> %s &", c.Binary, c.Args, logf, logf))
	return err
}

// Stop kills the controller job and tears down the shell.
func (c *Controller) Stop() error {
	if _, err := c.Cmd("kill %" + c.Binary); err != nil {
		return err
	}
	c.Terminate()
	return nil
}
