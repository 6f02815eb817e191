package job

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{name: "queued to downloading", from: StatusQueued, to: StatusDownloading, allowed: true},
		{name: "downloading to completed", from: StatusDownloading, to: StatusCompleted, allowed: true},
		{name: "downloading to failed", from: StatusDownloading, to: StatusFailed, allowed: true},
		{name: "same status is a no-op", from: StatusQueued, to: StatusQueued, allowed: true},
		{name: "queued cannot complete directly", from: StatusQueued, to: StatusCompleted, allowed: false},
		{name: "queued cannot fail directly", from: StatusQueued, to: StatusFailed, allowed: false},
		{name: "downloading never reverts to queued", from: StatusDownloading, to: StatusQueued, allowed: false},
		{name: "completed is terminal", from: StatusCompleted, to: StatusQueued, allowed: false},
		{name: "failed is terminal", from: StatusFailed, to: StatusDownloading, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusDownloading, StatusCompleted, StatusFailed} {
		require.True(t, ValidStatus(s), "expected %q to be valid", s)
	}

	require.False(t, ValidStatus(Status("paused")))
	require.False(t, ValidStatus(Status("")))
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{status: StatusQueued, terminal: false},
		{status: StatusDownloading, terminal: false},
		{status: StatusCompleted, terminal: true},
		{status: StatusFailed, terminal: true},
	}

	for _, tt := range tests {
		j := Job{Identifier: "item", Status: tt.status}
		require.Equal(t, tt.terminal, j.IsTerminal(), "status %q", tt.status)
	}
}
