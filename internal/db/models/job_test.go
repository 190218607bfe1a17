package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQueued, true},
		{JobStatusFailed, JobStatusQueued, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusQueued, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusFailed, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusProcessing, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestParseJobStatus(t *testing.T) {
	for _, valid := range []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		parsed, err := ParseJobStatus(string(valid))
		require.NoError(t, err)
		assert.Equal(t, valid, parsed)
	}

	parsed, err := ParseJobStatus("sleeping")
	assert.Error(t, err)
	assert.Equal(t, JobStatusUnknown, parsed)
}

func TestLLMOptionsDefaults(t *testing.T) {
	var opts *LLMOptions
	assert.True(t, opts.Enabled(), "nil options default to enabled")
	assert.Empty(t, opts.Forced())
	assert.True(t, opts.Fallback(true))
	assert.False(t, opts.Fallback(false))

	off := false
	opts = &LLMOptions{EnableLLM: &off}
	assert.False(t, opts.Enabled())

	on := true
	opts = &LLMOptions{FallbackEnabled: &on}
	assert.True(t, opts.Fallback(false), "explicit flag beats the global default")

	opts = &LLMOptions{Provider: "ollama"}
	assert.Equal(t, "ollama", opts.Forced())
}

func TestJobValidate(t *testing.T) {
	job := &Job{}
	assert.Error(t, job.Validate())

	job.OwnerID = uuid.New()
	assert.Error(t, job.Validate(), "filename still missing")

	job.InputFilename = "contract.pdf"
	assert.NoError(t, job.Validate())
}
