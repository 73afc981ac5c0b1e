package util

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FixLimits raises the process-count and open-file limits. One emulated
// node costs a shell process plus its pipes, so the defaults run out on
// anything but toy topologies.
func FixLimits() error {
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: 4096, Max: 8192}); err != nil {
		return errors.Wrap(err, "raise RLIMIT_NPROC")
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: 16384, Max: 32768}); err != nil {
		return errors.Wrap(err, "raise RLIMIT_NOFILE")
	}
	return nil
}

// CheckPrivilege verifies the environment the emulator cannot run
// without: root (namespaces, veth moves) and the iproute2 tooling the
// node shells invoke.
func CheckPrivilege() error {
	if os.Geteuid() != 0 {
		return errors.New("must run as root")
	}
	if _, err := exec.LookPath("ip"); err != nil {
		return errors.Wrap(err, "ip not found in PATH")
	}
	return nil
}
