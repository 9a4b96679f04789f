// Package fetcher downloads event listings from the ticketing feed.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"ticket_bot/internal/model"
)

const (
	userAgent   = "TicketNotifyBot/1.0"
	maxBodySize = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source returns the full current list of events.
type Source interface {
	Fetch(ctx context.Context) ([]model.Event, error)
}

// FetchError reports that the feed could not be read at all.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedEventError reports a feed record that is not an object or lacks
// required fields.
type MalformedEventError struct {
	Index   int
	Missing []string
	Err     error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("record %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("record %d: missing %s", e.Index, strings.Join(e.Missing, ", "))
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// Field names of a ticketing feed record.
const (
	fieldGroupCode   = "event_Group_Code"
	fieldCode        = "event_Code"
	fieldName        = "event_Name"
	fieldVenue       = "venue_Name"
	fieldCity        = "city_Name"
	fieldDisplayDate = "event_Display_Date"
	fieldPriceRange  = "event_Price_Range"
	fieldButtonText  = "event_Button_Text"
)

// Alternative keys accepted for the ticket reference, in order of preference.
var ticketRefFields = []string{fieldButtonText, "event_Ticket_Url", "event_Url"}

// JSONSource reads the ticketing API, which answers {"result": [record...]}.
type JSONSource struct {
	client HTTPClient
	url    string
	log    *slog.Logger
}

// New creates a JSONSource for the given feed URL.
func New(client HTTPClient, url string, log *slog.Logger) *JSONSource {
	return &JSONSource{
		client: client,
		url:    url,
		log:    log,
	}
}

// Fetch issues one GET against the feed.
//
// A non-success status or an absent result list yields no events and no error.
// Transport and decoding failures are returned as *FetchError. Malformed records
// are logged and skipped.
func (s *JSONSource) Fetch(ctx context.Context) ([]model.Event, error) {
	body, ok, err := get(ctx, s.client, s.url, s.log)
	if err != nil || !ok {
		return nil, err
	}

	var payload struct {
		Result []json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("decode body: %w", err)}
	}

	events := make([]model.Event, 0, len(payload.Result))
	for i, raw := range payload.Result {
		ev, err := decodeRecord(i, raw)
		if err != nil {
			s.log.Warn("skip malformed event", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeRecord(index int, raw json.RawMessage) (model.Event, error) {
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Event{}, &MalformedEventError{Index: index, Err: fmt.Errorf("decode record: %w", err)}
	}
	return ParseRecord(index, rec)
}

// get downloads url. ok is false when the server answered with a non-success status.
func get(ctx context.Context, client HTTPClient, url string, log *slog.Logger) (body []byte, ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, &FetchError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, false, &FetchError{URL: url, Err: fmt.Errorf("http get: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("feed returned non-success status", "url", url, "status", resp.StatusCode)
		return nil, false, nil
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, false, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, true, nil
}

// ParseRecord converts one feed record into an Event.
// Codes may be JSON strings or numbers; display fields must be present and non-blank.
func ParseRecord(index int, rec map[string]json.RawMessage) (model.Event, error) {
	var missing []string
	field := func(key string, required bool) string {
		v, ok := scalar(rec[key])
		if (!ok || v == "") && required {
			missing = append(missing, key)
		}
		return v
	}

	ev := model.Event{
		GroupCode:   field(fieldGroupCode, false),
		Code:        field(fieldCode, true),
		Name:        field(fieldName, true),
		Venue:       field(fieldVenue, true),
		City:        field(fieldCity, true),
		DisplayDate: field(fieldDisplayDate, true),
		PriceRange:  field(fieldPriceRange, true),
	}
	for _, key := range ticketRefFields {
		if v, ok := scalar(rec[key]); ok && v != "" {
			ev.TicketRef = v
			break
		}
	}
	if ev.TicketRef == "" {
		missing = append(missing, fieldButtonText)
	}

	if len(missing) > 0 {
		return model.Event{}, &MalformedEventError{Index: index, Missing: missing}
	}
	return ev, nil
}

// scalar decodes a JSON string or number. ok is false for absent, null or non-scalar values.
func scalar(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}
