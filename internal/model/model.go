// Package model defines the domain types used across the application.
package model

import (
	"sort"
	"time"
)

// EventID is the canonical identity of an event listing.
type EventID string

// Event represents one listing from the ticketing feed.
type Event struct {
	GroupCode   string
	Code        string
	Name        string
	Venue       string
	City        string
	DisplayDate string
	PriceRange  string
	TicketRef   string
}

// ID returns the deduplication key of the event.
// Feeds that only carry a single code produce the code itself, so a code
// "A-1" and the pair ("A", "1") share one key.
func (e Event) ID() EventID {
	if e.GroupCode == "" {
		return EventID(e.Code)
	}
	return EventID(e.GroupCode + "-" + e.Code)
}

// SeenSet is the set of event IDs that have already been announced.
type SeenSet map[EventID]struct{}

// NewSeenSet builds a set from a list of IDs, ignoring blanks.
func NewSeenSet(ids ...EventID) SeenSet {
	s := make(SeenSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Has reports whether id is in the set.
func (s SeenSet) Has(id EventID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s SeenSet) Add(id EventID) {
	if id == "" {
		return
	}
	s[id] = struct{}{}
}

// Len returns the number of IDs in the set.
func (s SeenSet) Len() int {
	return len(s)
}

// Clone returns an independent copy of the set.
func (s SeenSet) Clone() SeenSet {
	c := make(SeenSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Union returns a new set holding the IDs of both sets.
func (s SeenSet) Union(other SeenSet) SeenSet {
	u := s.Clone()
	for id := range other {
		u[id] = struct{}{}
	}
	return u
}

// Sorted returns the IDs in lexical order, the form used for persistence.
func (s SeenSet) Sorted() []EventID {
	ids := make([]EventID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RecipientID identifies a chat or channel that can receive notifications.
// Numeric values are Telegram chat IDs; values starting with "@" are channel usernames.
type RecipientID string

// Recipient is a chat registered in the recipient directory.
type Recipient struct {
	ID         RecipientID
	Subscribed bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
