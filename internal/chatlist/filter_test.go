package chatlist

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/chatsync/internal/kv"
)

func TestFilterTabsAndSearch(t *testing.T) {
	rows := []Row{
		{ID: "c1", OtherID: "u1", Title: "@josé", LastMessage: "see you", Unread: 2},
		{ID: "c2", OtherID: "u2", Title: "Ana", LastMessage: "Café later?", Favorite: true},
		{ID: "temp:u3", OtherID: "u3", Title: "User", Virtual: true},
	}

	tests := []struct {
		name  string
		tab   Tab
		query string
		want  []string
	}{
		{"all", TabAll, "", []string{"c1", "c2", "temp:u3"}},
		{"unread", TabUnread, "", []string{"c1"}},
		{"favorites", TabFavorites, "", []string{"c2"}},
		{"accent insensitive title", TabAll, "JOSE", []string{"c1"}},
		{"accent insensitive message", TabAll, "cafe", []string{"c2"}},
		{"counterpart id", TabAll, "u3", []string{"temp:u3"}},
		{"tab and query", TabFavorites, "jose", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(rows, tt.tab, tt.query)))
		})
	}
}

func TestParseTab(t *testing.T) {
	assert.Equal(t, TabUnread, ParseTab("Unread"))
	assert.Equal(t, TabFavorites, ParseTab("favorites"))
	assert.Equal(t, TabFavorites, ParseTab("fav"))
	assert.Equal(t, TabAll, ParseTab(""))
	assert.Equal(t, TabAll, ParseTab("bogus"))
}

func TestSortRowsRealBeforeVirtual(t *testing.T) {
	rows := []Row{
		{ID: "temp:a", OtherID: "a", Virtual: true},
		{ID: "zz", OtherID: "z", ActivityAt: 100},
		{ID: "b2", OtherID: "b", ActivityAt: 100},
		{ID: "new", OtherID: "n", ActivityAt: 500},
	}
	SortRows(rows)
	assert.Equal(t, []string{"new", "b2", "zz", "temp:a"}, ids(rows))
}

func TestFavoritesPersist(t *testing.T) {
	store := kv.NewMemoryStore()
	w := kv.NewWriter(store, zerolog.Nop())
	favs := NewFavorites(w, zerolog.Nop())

	assert.True(t, favs.Toggle("c1"))
	assert.True(t, favs.Toggle("temp:u2"))
	assert.False(t, favs.Toggle("c1"))
	w.Close()

	restored := NewFavorites(nil, zerolog.Nop())
	restored.Load(context.Background(), store)
	require.Equal(t, []string{"temp:u2"}, restored.List())
	assert.False(t, restored.Has("c1"))
}
