package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"

	"ticket_bot/internal/model"
)

// DefaultSeenObject is the object name used for the seen document in a bucket.
const DefaultSeenObject = "settings/" + SeenDocument + ".json"

var errConflict = errors.New("object changed since it was read")

// seenDoc is the JSON layout of the seen document.
type seenDoc struct {
	EventIDs []model.EventID `json:"event_ids"`
}

// object is a single versioned blob. Generation 0 means the object does not exist.
type object interface {
	read(ctx context.Context) (data []byte, generation int64, err error)
	// write stores data only if the object is still at generation; it returns
	// errConflict otherwise.
	write(ctx context.Context, data []byte, generation int64) error
}

type gcsObject struct {
	handle *storage.ObjectHandle
}

func (o gcsObject) read(ctx context.Context) ([]byte, int64, error) {
	r, err := o.handle.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open storage reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read from storage: %w", err)
	}
	return data, r.Attrs.Generation, nil
}

func (o gcsObject) write(ctx context.Context, data []byte, generation int64) error {
	cond := storage.Conditions{GenerationMatch: generation}
	if generation == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}

	w := o.handle.If(cond).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write to storage: %w", err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return errConflict
		}
		return fmt.Errorf("close storage writer: %w", err)
	}
	return nil
}

// GCSSeenStore keeps the seen set as one JSON document in a Cloud Storage bucket.
//
// Save is a read-merge-write guarded by the object generation, so two writers
// racing on the document both end up in the stored set.
type GCSSeenStore struct {
	obj      object
	log      *slog.Logger
	attempts uint
	delay    time.Duration
}

// NewGCSSeenStore creates a seen store on bucket/name.
func NewGCSSeenStore(client *storage.Client, bucket, name string, log *slog.Logger) *GCSSeenStore {
	if name == "" {
		name = DefaultSeenObject
	}
	return newGCSSeenStore(gcsObject{handle: client.Bucket(bucket).Object(name)}, log)
}

func newGCSSeenStore(obj object, log *slog.Logger) *GCSSeenStore {
	return &GCSSeenStore{
		obj:      obj,
		log:      log,
		attempts: 5,
		delay:    time.Second,
	}
}

// Load reads the seen document. A missing document is an empty set.
func (s *GCSSeenStore) Load(ctx context.Context) (model.SeenSet, error) {
	data, _, err := s.obj.read(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load seen document", Err: err}
	}
	seen, err := decodeSeen(data)
	if err != nil {
		return nil, &PersistenceError{Op: "load seen document", Err: err}
	}
	return seen, nil
}

// Save merges ids into the stored document. Only a lost generation race is
// retried; any other storage failure is returned at once.
func (s *GCSSeenStore) Save(ctx context.Context, ids model.SeenSet) error {
	if ids.Len() == 0 {
		return nil
	}

	err := s.mergeRetry(ctx, func() error {
		data, gen, err := s.obj.read(ctx)
		if err != nil {
			return err
		}
		current, err := decodeSeen(data)
		if err != nil {
			return err
		}

		merged := current.Union(ids)
		if gen != 0 && merged.Len() == current.Len() {
			return nil
		}

		out, err := json.Marshal(seenDoc{EventIDs: merged.Sorted()})
		if err != nil {
			return fmt.Errorf("marshal seen document: %w", err)
		}
		return s.obj.write(ctx, out, gen)
	})
	if err != nil {
		return &PersistenceError{Op: "save seen document", Err: err}
	}

	s.log.Debug("seen document saved", "count", ids.Len())
	return nil
}

func (s *GCSSeenStore) mergeRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(s.delay),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errConflict) }),
		retry.OnRetry(func(n uint, err error) {
			s.log.Info("seen document changed concurrently, merging again", "attempt", n, "error", err)
		}),
	)
}

func decodeSeen(data []byte) (model.SeenSet, error) {
	if len(data) == 0 {
		return model.NewSeenSet(), nil
	}
	var doc seenDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode seen document: %w", err)
	}
	return model.NewSeenSet(doc.EventIDs...), nil
}
