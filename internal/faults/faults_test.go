package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "connectivity error",
			err:  New(Connectivity, "store unreachable"),
			want: Connectivity,
		},
		{
			name: "validation error",
			err:  Newf(Validation, "missing field %q", "jobId"),
			want: Validation,
		},
		{
			name: "unclassified error defaults to internal",
			err:  errors.New("something broke"),
			want: Internal,
		},
		{
			name: "classification survives wrapping",
			err:  fmt.Errorf("processing job: %w", Wrap(Connectivity, errors.New("dial tcp: refused"), "redis ping")),
			want: Connectivity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(Connectivity, "registry unavailable")))
	assert.False(t, Retryable(New(Validation, "bad input")))
	assert.False(t, Retryable(New(NotFound, "no such node")))
	assert.False(t, Retryable(errors.New("plain error")))

	// Retryability must come from the tag, not from message text
	assert.False(t, Retryable(New(Validation, "connection refused")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(Connectivity, nil, "no-op"))
	assert.Nil(t, Wrapf(Connectivity, nil, "no-op %d", 1))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(Connectivity, errors.New("i/o timeout"), "query nodes")
	assert.Equal(t, "query nodes: i/o timeout", err.Error())
	assert.Equal(t, "i/o timeout", errors.Unwrap(err).Error())
}
