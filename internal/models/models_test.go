package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Neo Anderson ", "neo_anderson"},
		{"@Trinity", "trinity"},
		{"mr.smith!!", "mr.smith"},
		{"a  \t b", "a_b"},
		{"ÁlvaroGamer", "lvarogamer"},
		{strings.Repeat("x", 30), strings.Repeat("x", 20)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeHandle(tt.in), tt.in)
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, "alice__bob", PairKey("bob", "alice"))
	assert.Equal(t, PairKey("alice", "bob"), RelationshipID("bob", "alice"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hi", Preview("  hi \n"))

	long := strings.Repeat("é", 150)
	got := Preview(long)
	assert.Equal(t, strings.Repeat("é", 140)+"…", got)
}

func TestCanonical(t *testing.T) {
	t1 := time.UnixMilli(100)
	t2 := time.UnixMilli(200)

	_, ok := Canonical(nil)
	assert.False(t, ok)

	got, ok := Canonical([]Conversation{
		{ID: "b", LastMessageAt: &t1},
		{ID: "c", UpdatedAt: &t2},
		{ID: "a", LastMessageAt: &t1},
	})
	assert.True(t, ok)
	assert.Equal(t, "c", got.ID)

	got, _ = Canonical([]Conversation{{ID: "z"}, {ID: "m"}})
	assert.Equal(t, "m", got.ID)
}

func TestCounterpartAndTitle(t *testing.T) {
	c := Conversation{Members: []string{"me", "you"}}
	assert.Equal(t, "you", c.Counterpart("me"))

	handle := "@neo"
	assert.Equal(t, "@neo", (&UserProfile{DisplayName: "Neo", Username: &handle}).Title())
	assert.Equal(t, "Neo", (&UserProfile{DisplayName: "Neo"}).Title())
	var nilProfile *UserProfile
	assert.Equal(t, PlaceholderName, nilProfile.Title())
}
