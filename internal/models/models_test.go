package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusMatched.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestRequirementsEmpty(t *testing.T) {
	assert.True(t, Requirements{}.Empty())
	assert.False(t, Requirements{GPUModel: "a100"}.Empty())
	assert.False(t, Requirements{VRAMMin: 24}.Empty())
	assert.False(t, Requirements{Capabilities: []string{"cuda"}}.Empty())
}
