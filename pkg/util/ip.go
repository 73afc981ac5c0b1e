package util

import (
	"net"
	"strconv"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"
)

// IPAllocator hands out host addresses from a CIDR block, one at a time.
// The sequence is finite: Next fails once the block is exhausted, which
// callers must treat as a fatal setup error rather than wrapping around.
type IPAllocator struct {
	base *net.IPNet
	next int
}

func NewIPAllocator(block string) (*IPAllocator, error) {
	_, ipnet, err := net.ParseCIDR(block)
	if err != nil {
		return nil, errors.Wrapf(err, "parse address block %q", block)
	}
	// Host number 0 is the network address, so allocation starts at 1.
	return &IPAllocator{base: ipnet, next: 1}, nil
}

// Next returns the next unused address in the block.
func (a *IPAllocator) Next() (net.IP, error) {
	count := cidr.AddressCount(a.base)
	if uint64(a.next) >= count-1 { // last host number is the broadcast address
		return nil, errors.Errorf("address block %s exhausted after %d hosts", a.base, a.next-1)
	}
	ip, err := cidr.Host(a.base, a.next)
	if err != nil {
		return nil, errors.Wrapf(err, "host %d in %s", a.next, a.base)
	}
	a.next++
	return ip, nil
}

// Bits returns the prefix suffix for the block, e.g. "/24".
func (a *IPAllocator) Bits() string {
	ones, _ := a.base.Mask.Size()
	return "/" + strconv.Itoa(ones)
}
