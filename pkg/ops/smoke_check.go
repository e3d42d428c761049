package ops

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"time"
)

// SmokeCheck launches a built binary with a probe argument in a minimal
// environment and confirms it starts and exits cleanly. It proves the
// artifact is launchable outside the build environment, nothing more.
type SmokeCheck struct {
	common

	// Probe is the argument list passed to the binary. Defaults to
	// --version, which every shipped binary answers without a display.
	Probe []string

	Timeout time.Duration
}

func (s *SmokeCheck) Run(ctx context.Context, binary string) error {
	probe := s.Probe
	if len(probe) == 0 {
		probe = []string{"--version"}
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	home, err := ioutil.TempDir("", "foundry-smoke")
	if err != nil {
		return err
	}

	defer os.RemoveAll(home)

	cmd := exec.CommandContext(ctx, binary, probe...)

	// Deliberately not the caller's environment. The artifact must
	// stand on its own runtime search paths.
	cmd.Env = []string{
		"PATH=/usr/bin:/bin",
		"HOME=" + home,
	}

	var buf bytes.Buffer

	cmd.Stdout = &buf
	cmd.Stderr = &buf

	s.L().Debug("smoke testing", "binary", binary, "probe", probe)

	err = cmd.Run()
	if err != nil {
		return track(&SmokeTestFailure{Binary: binary, Output: buf.String(), Err: err})
	}

	return nil
}
