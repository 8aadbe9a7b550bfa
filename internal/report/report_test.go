package report

import (
	"testing"

	"arber/internal/coordinator"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		state coordinator.State
		want  int
	}{
		{coordinator.StateClosed, ExitOK},
		{coordinator.StatePartiallyFilled, ExitPartiallyFilled},
		{coordinator.StateRolledBack, ExitRolledBack},
		{coordinator.StateTimedOut, ExitTimedOut},
		{coordinator.StateFailed, ExitFailed},
		{coordinator.StateMonitoring, ExitFailed},
	}

	for _, tc := range cases {
		if got := ExitCode(tc.state); got != tc.want {
			t.Errorf("ExitCode(%s) = %d, want %d", tc.state, got, tc.want)
		}
	}
}
