package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/gccodes"
	"github.com/roach88/vmstate/internal/history"
)

func TestClassify(t *testing.T) {
	ev := event.Event{Kind: "jvm:thread_start", Timestamp: 77}

	tests := []struct {
		name  string
		err   error
		code  RuntimeErrorCode
		fatal bool
	}{
		{"ordering", &history.OrderingError{Handle: 1, Last: 80, At: 77}, ErrCodeOrderingViolation, true},
		{"gc code", fmt.Errorf("report: %w", gccodes.ErrUnknownCode), ErrCodeUnknownGCCode, true},
		{"field", &event.FieldError{Kind: "x", Field: "tid", Reason: "is missing"}, ErrCodeMissingField, false},
		{"closed", fmt.Errorf("thread_stop: %w", history.ErrClosed), ErrCodeSessionClosed, true},
		{"other", errors.New("boom"), ErrCodeInternal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := classify(tt.err, ev, 3)
			assert.Equal(t, tt.code, re.Code)
			assert.Equal(t, tt.fatal, re.Fatal())
			assert.Equal(t, tt.fatal, IsFatal(fmt.Errorf("wrapped: %w", re)))
			assert.ErrorIs(t, re, tt.err)
			assert.Contains(t, re.Error(), "kind=jvm:thread_start, seq=3, ts=77")
		})
	}
}

func TestErrorPredicatesOnPlainErrors(t *testing.T) {
	assert.False(t, IsFatal(errors.New("x")))
	assert.False(t, IsOrderingError(errors.New("x")))
	assert.True(t, IsOrderingError(&history.OrderingError{}))
	assert.False(t, IsFieldError(nil))
}
