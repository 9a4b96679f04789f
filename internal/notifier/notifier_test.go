package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ticket_bot/internal/model"
)

type sentMessage struct {
	To   model.RecipientID
	Text string
}

type mockSender struct {
	mu       sync.Mutex
	messages []sentMessage
	attempts int
	fail     map[model.RecipientID]error
	panicOn  model.RecipientID
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (m *mockSender) Send(_ context.Context, to model.RecipientID, text string) error {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		prev := m.maxInFlight.Load()
		if cur <= prev || m.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if to == m.panicOn && to != "" {
		panic("boom")
	}
	if err := m.fail[to]; err != nil {
		return err
	}
	m.messages = append(m.messages, sentMessage{To: to, Text: text})
	return nil
}

func (m *mockSender) getMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sentMessage, len(m.messages))
	copy(cp, m.messages)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].To != cp[j].To {
			return cp[i].To < cp[j].To
		}
		return cp[i].Text < cp[j].Text
	})
	return cp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func events(n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		out[i] = model.Event{GroupCode: "G", Code: fmt.Sprint(i + 1), Name: fmt.Sprintf("Show %d", i+1)}
	}
	return out
}

func recipients(n int) []model.RecipientID {
	out := make([]model.RecipientID, n)
	for i := range out {
		out[i] = model.RecipientID(fmt.Sprintf("c%d", i+1))
	}
	return out
}

func TestBroadcastCounts(t *testing.T) {
	errDown := errors.New("chat not found")

	tests := []struct {
		name          string
		events        int
		recipients    int
		fail          map[model.RecipientID]error
		workers       int
		wantAttempted int
		wantFailed    int
	}{
		{name: "one event two recipients", events: 1, recipients: 2, wantAttempted: 2},
		{name: "fan-out grid", events: 3, recipients: 4, wantAttempted: 12},
		{name: "one recipient fails for every event", events: 3, recipients: 4, fail: map[model.RecipientID]error{"c2": errDown}, wantAttempted: 12, wantFailed: 3},
		{name: "bounded workers", events: 5, recipients: 5, workers: 2, fail: map[model.RecipientID]error{"c1": errDown, "c5": errDown}, wantAttempted: 25, wantFailed: 10},
		{name: "no recipients", events: 2, recipients: 0},
		{name: "no events", events: 0, recipients: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{fail: tt.fail}
			n := New(sender, discardLogger(), WithWorkers(tt.workers))

			rep := n.Broadcast(context.Background(), events(tt.events), recipients(tt.recipients))

			want := Report{
				Attempted: tt.wantAttempted,
				Succeeded: tt.wantAttempted - tt.wantFailed,
				Failed:    tt.wantFailed,
			}
			got := Report{Attempted: rep.Attempted, Succeeded: rep.Succeeded, Failed: rep.Failed}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAttempted, sender.attempts); diff != "" {
				t.Errorf("send attempts mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAttempted-tt.wantFailed, len(sender.getMessages())); diff != "" {
				t.Errorf("delivered messages mismatch (-want +got):\n%s", diff)
			}
			if len(rep.Failures) != tt.wantFailed {
				t.Fatalf("expected %d failures, got %d", tt.wantFailed, len(rep.Failures))
			}
			for _, f := range rep.Failures {
				if !errors.Is(f, errDown) {
					t.Errorf("failure %v does not wrap transport error", f)
				}
				if tt.fail[f.Recipient] == nil {
					t.Errorf("unexpected failure for recipient %s", f.Recipient)
				}
			}
		})
	}
}

func TestBroadcastFailureDetail(t *testing.T) {
	errDown := errors.New("bot was blocked by the user")
	sender := &mockSender{fail: map[model.RecipientID]error{"c2": errDown}}
	n := New(sender, discardLogger())

	rep := n.Broadcast(context.Background(), events(1), recipients(2))

	if len(rep.Failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(rep.Failures))
	}
	f := rep.Failures[0]
	if diff := cmp.Diff(model.EventID("G-1"), f.EventID); diff != "" {
		t.Errorf("event id mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(model.RecipientID("c2"), f.Recipient); diff != "" {
		t.Errorf("recipient mismatch (-want +got):\n%s", diff)
	}

	want := []sentMessage{{To: "c1", Text: FormatEvent(events(1)[0])}}
	if diff := cmp.Diff(want, sender.getMessages()); diff != "" {
		t.Errorf("delivered messages mismatch (-want +got):\n%s", diff)
	}
}

func TestBroadcastPanicIsolated(t *testing.T) {
	sender := &mockSender{panicOn: "c1"}
	n := New(sender, discardLogger())

	rep := n.Broadcast(context.Background(), events(2), recipients(3))

	if diff := cmp.Diff(6, rep.Attempted); diff != "" {
		t.Errorf("attempted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, rep.Failed); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(4, len(sender.getMessages())); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestBroadcastRunsConcurrently(t *testing.T) {
	sender := &mockSender{delay: 50 * time.Millisecond}
	n := New(sender, discardLogger())

	start := time.Now()
	rep := n.Broadcast(context.Background(), events(4), recipients(5))
	elapsed := time.Since(start)

	if rep.Succeeded != 20 {
		t.Fatalf("expected 20 deliveries, got %d", rep.Succeeded)
	}
	if sender.maxInFlight.Load() < 2 {
		t.Errorf("expected concurrent sends, max in flight was %d", sender.maxInFlight.Load())
	}
	// Serial dispatch would take 20 * 50ms.
	if elapsed > 500*time.Millisecond {
		t.Errorf("broadcast took %v, sends do not appear to overlap", elapsed)
	}
}

func TestBroadcastWorkerLimit(t *testing.T) {
	sender := &mockSender{delay: 10 * time.Millisecond}
	n := New(sender, discardLogger(), WithWorkers(3))

	rep := n.Broadcast(context.Background(), events(3), recipients(4))

	if rep.Succeeded != 12 {
		t.Fatalf("expected 12 deliveries, got %d", rep.Succeeded)
	}
	if got := sender.maxInFlight.Load(); got > 3 {
		t.Errorf("max in flight %d exceeds worker limit 3", got)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name  string
		event model.Event
		want  string
	}{
		{
			name: "plain fields",
			event: model.Event{
				Name: "Arctic Monkeys", Venue: "Zappa", City: "Tel Aviv",
				DisplayDate: "12/03/2026", PriceRange: "250-450", TicketRef: "https://t.example.com/A/1",
			},
			want: "🎟 *Arctic Monkeys*\n📍 Zappa, Tel Aviv\n📅 12/03/2026\n💰 250-450\n🔗 [Buy Tickets](https://t.example.com/A/1)",
		},
		{
			name: "markdown characters escaped",
			event: model.Event{
				Name: "Jazz_Night *Live*", Venue: "[Barby]", City: "Jaffa",
				DisplayDate: "14/03", PriceRange: "`120`", TicketRef: "https://t.example.com/77/2",
			},
			want: "🎟 *Jazz\\_Night \\*Live\\**\n📍 \\[Barby], Jaffa\n📅 14/03\n💰 \\`120\\`\n🔗 [Buy Tickets](https://t.example.com/77/2)",
		},
		{
			name: "link target with parentheses",
			event: model.Event{
				Name: "Show", Venue: "Hall", City: "Haifa",
				DisplayDate: "15/03", PriceRange: "90", TicketRef: "https://t.example.com/show (late)",
			},
			want: "🎟 *Show*\n📍 Hall, Haifa\n📅 15/03\n💰 90\n🔗 [Buy Tickets](https://t.example.com/show%20%28late%29)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatEvent(tt.event)); diff != "" {
				t.Errorf("FormatEvent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWithFormatter(t *testing.T) {
	sender := &mockSender{}
	n := New(sender, discardLogger(), WithFormatter(func(ev model.Event) string { return "new: " + string(ev.ID()) }))

	n.Broadcast(context.Background(), events(1), recipients(1))

	want := []sentMessage{{To: "c1", Text: "new: G-1"}}
	if diff := cmp.Diff(want, sender.getMessages()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}
