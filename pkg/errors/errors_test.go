package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"sentinel", ErrNotFriends, CodePermissionDenied},
		{"wrapped sentinel", fmt.Errorf("open chat: %w", ErrNotFriends), CodePermissionDenied},
		{"wrap with cause", ErrSendFailed(stderrors.New("boom")), CodeUnavailable},
		{"deadline", context.DeadlineExceeded, CodeDeadlineExceeded},
		{"plain", stderrors.New("x"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stderrors.New("network down")
	err := ErrSendFailed(cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "message could not be sent: network down", err.Error())
	assert.Equal(t, "message could not be sent", MessageOf(err))
}
