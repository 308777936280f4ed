package models

import (
	"sort"
	"time"
)

type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendRejected FriendStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s FriendStatus) Terminal() bool {
	return s == FriendAccepted || s == FriendRejected
}

// FriendRelationship is the single document per unordered pair of users.
type FriendRelationship struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Members   []string     `json:"members"`
	Status    FriendStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Other returns the member that is not me.
func (r *FriendRelationship) Other(me string) string {
	if r.From == me {
		return r.To
	}
	return r.From
}

// SortedPair returns a and b in ascending order.
func SortedPair(a, b string) (string, string) {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0], ids[1]
}

// PairKey is the deterministic key of an unordered pair: "x__y" with x < y.
func PairKey(a, b string) string {
	x, y := SortedPair(a, b)
	return x + "__" + y
}

// RelationshipID is the friends document id for a pair of users.
func RelationshipID(a, b string) string {
	return PairKey(a, b)
}

// CreateFriendRequest defines the request body for sending a friend request
type CreateFriendRequest struct {
	To     string `json:"to" validate:"required_without=Handle"`
	Handle string `json:"handle" validate:"omitempty,max=21"`
}

// UpdateFriendRequest defines the request body for accepting/rejecting a friend request
type UpdateFriendRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted rejected"`
}

// FriendsOverview is the combined state of the three relationship views.
type FriendsOverview struct {
	Incoming []FriendRelationship `json:"incoming"`
	Outgoing []FriendRelationship `json:"outgoing"`
	Accepted []FriendRelationship `json:"accepted"`
}
