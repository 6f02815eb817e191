package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()

	var collected []Event

	timeout := time.After(5 * time.Second)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}

			collected = append(collected, ev)
		case <-timeout:
			t.Fatal("timed out waiting for the event stream to close")
		}
	}
}

func TestExecLauncherStreamsWorkerOutput(t *testing.T) {
	launcher := NewExecLauncher()

	proc, events, err := launcher.Launch(context.Background(), "sh",
		[]string{"-c", `echo "Progress: 10%"; echo "Progress: 90%"; echo "noise line"`})
	require.NoError(t, err)
	require.Positive(t, proc.PID())

	collected := collectEvents(t, events)
	require.Len(t, collected, 3)
	require.Equal(t, ProgressEvent{Percent: 10}, collected[0])
	require.Equal(t, ProgressEvent{Percent: 90}, collected[1])
	require.Equal(t, ExitEvent{Code: 0}, collected[2])
}

func TestExecLauncherCapturesStderrAndExitCode(t *testing.T) {
	launcher := NewExecLauncher()

	_, events, err := launcher.Launch(context.Background(), "sh",
		[]string{"-c", `echo "disk full" >&2; exit 3`})
	require.NoError(t, err)

	collected := collectEvents(t, events)
	require.Len(t, collected, 2)
	require.Equal(t, StderrEvent{Line: "disk full"}, collected[0])
	require.Equal(t, ExitEvent{Code: 3}, collected[1])
}

func TestExecLauncherMissingBinary(t *testing.T) {
	launcher := NewExecLauncher()

	_, _, err := launcher.Launch(context.Background(), "definitely-not-a-real-binary", nil)
	require.Error(t, err)
}
