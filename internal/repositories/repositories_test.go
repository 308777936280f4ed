package repositories

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsMissingIndex(t *testing.T) {
	assert.True(t, IsMissingIndex(MissingIndexError("conversations.ordered")))
	assert.True(t, IsMissingIndex(status.Error(codes.FailedPrecondition, "index")))
	assert.False(t, IsMissingIndex(status.Error(codes.Unavailable, "down")))
	assert.False(t, IsMissingIndex(errors.New("plain")))
	assert.False(t, IsMissingIndex(nil))
}

func TestDecodeHelpers(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data := map[string]interface{}{
		"authorId": "u1",
		"sentAt":   ts,
		"members":  []interface{}{"a", 7, "b"},
		"empty":    "",
	}

	assert.Equal(t, "u1", getStr(data, "senderId", "authorId"))
	assert.Equal(t, "", getStr(data, "empty"))
	assert.Equal(t, ts, *getTime(data, "createdAt", "sentAt"))
	assert.Nil(t, getTime(data, "createdAt"))
	assert.Equal(t, []string{"a", "b"}, getStrings(data, "members"))
	assert.Nil(t, getStrings(data, "missing"))
	assert.True(t, timeOrZero(nil).IsZero())
}
