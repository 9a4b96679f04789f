// Package storage defines the persistence interfaces and their implementations.
package storage

import (
	"context"
	"fmt"

	"ticket_bot/internal/model"
)

// SeenDocument is the logical name of the seen-events document.
const SeenDocument = "seen_events"

// SeenStore persists the set of already announced events.
type SeenStore interface {
	// Load returns the persisted set, or an empty set if nothing was saved yet.
	Load(ctx context.Context) (model.SeenSet, error)
	// Save merges ids into the persisted set. IDs written by other callers are kept.
	Save(ctx context.Context, ids model.SeenSet) error
}

// RecipientDirectory lists the chats that receive notifications.
type RecipientDirectory interface {
	SubscribedRecipients(ctx context.Context) ([]model.RecipientID, error)
}

// Storage is the interface for the local database used by the bot.
type Storage interface {
	SeenStore
	RecipientDirectory

	Subscribe(ctx context.Context, id model.RecipientID) error
	Unsubscribe(ctx context.Context, id model.RecipientID) error
	GetRecipient(ctx context.Context, id model.RecipientID) (*model.Recipient, error)

	Close() error
}

// PersistenceError reports that the store is unreachable or its data is unusable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StaticDirectory is a fixed list of recipients, typically taken from configuration.
type StaticDirectory []model.RecipientID

// SubscribedRecipients returns the configured recipients.
func (d StaticDirectory) SubscribedRecipients(_ context.Context) ([]model.RecipientID, error) {
	return append([]model.RecipientID(nil), d...), nil
}

// CombinedDirectory merges several directories, dropping duplicates.
// Order follows the directories and, within each, the order they return.
type CombinedDirectory []RecipientDirectory

// SubscribedRecipients queries every directory in turn. The first failure aborts the query.
func (d CombinedDirectory) SubscribedRecipients(ctx context.Context) ([]model.RecipientID, error) {
	seen := make(map[model.RecipientID]bool)
	var out []model.RecipientID
	for _, dir := range d {
		ids, err := dir.SubscribedRecipients(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
