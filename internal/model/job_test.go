package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pdf-pipeline-server/internal/model"
)

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from    model.JobStatus
		to      model.JobStatus
		allowed bool
	}{
		{model.JobPending, model.JobQueued, true},
		{model.JobPending, model.JobCanceled, true},
		{model.JobQueued, model.JobProcessing, true},
		{model.JobQueued, model.JobCanceled, true},
		{model.JobProcessing, model.JobCompleted, true},
		{model.JobProcessing, model.JobFailed, true},
		{model.JobProcessing, model.JobCanceled, true},
		{model.JobFailed, model.JobQueued, true},
		{model.JobFailed, model.JobDeadLetter, true},

		{model.JobPending, model.JobProcessing, false},
		{model.JobCompleted, model.JobQueued, false},
		{model.JobDeadLetter, model.JobQueued, false},
		{model.JobCanceled, model.JobProcessing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, model.JobCompleted.IsTerminal())
	assert.True(t, model.JobDeadLetter.IsTerminal())
	assert.True(t, model.JobCanceled.IsTerminal())
	assert.False(t, model.JobFailed.IsTerminal())
	assert.False(t, model.JobProcessing.IsTerminal())
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 60*time.Second, model.RetryBackoff(0))
	assert.Equal(t, 120*time.Second, model.RetryBackoff(1))
	assert.Equal(t, 240*time.Second, model.RetryBackoff(2))
	assert.Equal(t, 480*time.Second, model.RetryBackoff(3))
	// потолок — один час
	assert.Equal(t, 3600*time.Second, model.RetryBackoff(6))
	assert.Equal(t, 3600*time.Second, model.RetryBackoff(20))
}
