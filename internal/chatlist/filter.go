package chatlist

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Tab string

const (
	TabAll       Tab = "all"
	TabUnread    Tab = "unread"
	TabFavorites Tab = "fav"
)

// ParseTab maps a query value to a Tab, defaulting to TabAll.
func ParseTab(s string) Tab {
	switch Tab(strings.ToLower(s)) {
	case TabUnread:
		return TabUnread
	case TabFavorites, "favorites":
		return TabFavorites
	}
	return TabAll
}

// fold lowercases s and strips combining marks, so "José" matches "jose".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Filter applies a tab and a free-text query to rows.
func Filter(rows []Row, tab Tab, query string) []Row {
	q := fold(strings.TrimSpace(query))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		switch tab {
		case TabFavorites:
			if !r.Favorite {
				continue
			}
		case TabUnread:
			if r.Unread == 0 {
				continue
			}
		}
		if q != "" && !strings.Contains(fold(r.Title+" "+r.LastMessage+" "+r.OtherID), q) {
			continue
		}
		out = append(out, r)
	}
	return out
}
