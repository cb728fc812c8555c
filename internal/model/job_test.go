package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   JobStatus
		want     string
		terminal bool
		active   bool
	}{
		{JobQueued, "queued", false, true},
		{JobRunning, "running", false, true},
		{JobCompleted, "completed", true, false},
		{JobFailed, "failed", true, false},
		{JobCancelled, "cancelled", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.active, tt.status.Active())
		})
	}
}

func TestJobPhaseRank_ForwardOrder(t *testing.T) {
	t.Parallel()

	order := []JobPhase{PhaseNone, PhaseContacts, PhaseEmails, PhaseThemes, PhaseVault, PhaseCompleted}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(), "%s should rank above %s", order[i], order[i-1])
	}
}
