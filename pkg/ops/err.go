package ops

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

func track(err error) error {
	return errors.WithStack(err)
}

// ErrUnresolvedPin indicates a vendored lockfile entry has no pin. Raised
// before any compile work so an unpinned dependency can never reach the
// build.
var ErrUnresolvedPin = errors.New("unresolved pin")

// ErrPublishSkipped signals that a publish was withheld by policy, not
// that anything failed. Callers distinguish it with errors.Is.
var ErrPublishSkipped = errors.New("publish skipped by policy")

// CompileError carries the failing target and the tail of the build
// output.
type CompileError struct {
	Target string
	Output string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %s failed:\n%s", e.Target, tail(e.Output))
}

// TestFailure reports the upstream test suite failing. Excluded lists
// tests that were skipped and therefore verify nothing either way.
type TestFailure struct {
	Output   string
	Excluded []string
}

func (e *TestFailure) Error() string {
	return "upstream tests failed:\n" + tail(e.Output)
}

type InstallError struct {
	Path string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s: %s", e.Path, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// SmokeTestFailure means the built artifact did not start cleanly when
// probed.
type SmokeTestFailure struct {
	Binary string
	Output string
	Err    error
}

func (e *SmokeTestFailure) Error() string {
	return fmt.Sprintf("smoke test of %s failed: %s\n%s", e.Binary, e.Err, tail(e.Output))
}

func (e *SmokeTestFailure) Unwrap() error {
	return e.Err
}

// tail keeps error messages readable when a build tool dumps pages of
// output.
func tail(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= 30 {
		return s
	}

	return strings.Join(lines[len(lines)-30:], "\n")
}
