package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"ticket_bot/internal/model"
)

// RSSSource reads event listings published as an RSS or Atom feed.
// The feed title becomes the group code and the item GUID the event code.
type RSSSource struct {
	client HTTPClient
	url    string
	log    *slog.Logger
}

// NewRSS creates an RSSSource for the given feed URL.
func NewRSS(client HTTPClient, url string, log *slog.Logger) *RSSSource {
	return &RSSSource{
		client: client,
		url:    url,
		log:    log,
	}
}

// Fetch downloads and parses the feed. Status handling matches JSONSource.
func (s *RSSSource) Fetch(ctx context.Context) ([]model.Event, error) {
	body, ok, err := get(ctx, s.client, s.url, s.log)
	if err != nil || !ok {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: fmt.Errorf("parse feed: %w", err)}
	}

	events := make([]model.Event, 0, len(feed.Items))
	for i, item := range feed.Items {
		ev, err := itemEvent(i, feed.Title, item)
		if err != nil {
			s.log.Warn("skip malformed event", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// itemEvent maps an item to an Event. Venue and price come from the event:
// namespace extension; the city from event:city or the first category.
// Items missing any display field are rejected like JSON records.
func itemEvent(index int, group string, item *gofeed.Item) (model.Event, error) {
	ev := model.Event{
		GroupCode:   group,
		Code:        ItemGUID(item),
		Name:        strings.TrimSpace(item.Title),
		DisplayDate: strings.TrimSpace(item.Published),
		TicketRef:   strings.TrimSpace(item.Link),
	}
	if item.PublishedParsed != nil {
		ev.DisplayDate = item.PublishedParsed.UTC().Format("2006-01-02 15:04 UTC")
	}
	if len(item.Categories) > 0 {
		ev.City = strings.TrimSpace(item.Categories[0])
	}
	if fields, ok := item.Extensions["event"]; ok {
		ev.Venue = extValue(fields, "venue")
		if city := extValue(fields, "city"); city != "" {
			ev.City = city
		}
		ev.PriceRange = extValue(fields, "price")
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"title", ev.Name},
		{"link", ev.TicketRef},
		{"venue", ev.Venue},
		{"city", ev.City},
		{"date", ev.DisplayDate},
		{"price", ev.PriceRange},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return model.Event{}, &MalformedEventError{Index: index, Missing: missing}
	}
	return ev, nil
}

func extValue(fields map[string][]ext.Extension, name string) string {
	if vals := fields[name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Value)
	}
	return ""
}

// ItemGUID returns the GUID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
