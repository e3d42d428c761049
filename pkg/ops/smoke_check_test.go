package ops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeCheck(t *testing.T) {
	t.Run("clean start passes", func(t *testing.T) {
		sc := &SmokeCheck{Probe: []string{"-c", "exit 0"}}

		err := sc.Run(context.Background(), "/bin/sh")
		require.NoError(t, err)
	})

	t.Run("nonzero exit fails with output", func(t *testing.T) {
		sc := &SmokeCheck{Probe: []string{"-c", "echo broken >&2; exit 3"}}

		err := sc.Run(context.Background(), "/bin/sh")
		require.Error(t, err)

		var sf *SmokeTestFailure

		require.ErrorAs(t, err, &sf)
		assert.Contains(t, sf.Output, "broken")
	})

	t.Run("hanging binary times out", func(t *testing.T) {
		sc := &SmokeCheck{
			Probe:   []string{"-c", "sleep 60"},
			Timeout: 100 * time.Millisecond,
		}

		err := sc.Run(context.Background(), "/bin/sh")
		require.Error(t, err)
	})
}
