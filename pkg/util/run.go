package util

import (
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// QuietRun runs a command in the root namespace, folding stderr into the
// returned output and swallowing failure. It is used for idempotent
// cleanup, where "no such resource" is expected steady-state noise.
func QuietRun(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return ""
	}
	out, err := exec.Command(fields[0], fields[1:]...).CombinedOutput()
	if err != nil {
		logrus.WithField("cmd", cmdline).Debugf("quiet run: %v", err)
	}
	return string(out)
}

// CheckRun runs a command in the root namespace and fails on a non-zero
// exit, attaching the combined output to the error.
func CheckRun(cmdline string) error {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	out, err := exec.Command(fields[0], fields[1:]...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", cmdline, strings.TrimSpace(string(out)))
	}
	return nil
}
