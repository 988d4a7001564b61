package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ignite/mailcal/internal/event"
	"github.com/ignite/mailcal/internal/mailbox"
	"github.com/ignite/mailcal/internal/store"
)

type fakeExtractor struct{}

// Extract derives a unique record per message body so the fakes can
// tell messages apart.
func (fakeExtractor) Extract(ctx context.Context, body string) event.Record {
	return event.Record{
		Name:        body,
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30", DurationMinutes: 60}},
	}
}

type fakeStore struct {
	persisted  []string
	duplicates map[string]bool
	failOn     string
}

func (f *fakeStore) Persist(ctx context.Context, addr string, rec event.Record) (*store.StoredEvent, error) {
	if f.failOn == rec.Name {
		return nil, errors.New("database is locked")
	}
	if f.duplicates[rec.Name] {
		return nil, nil
	}
	f.persisted = append(f.persisted, rec.Name)
	return &store.StoredEvent{UniqueID: fmt.Sprintf("id-%d", len(f.persisted)), EventName: rec.Name}, nil
}

type fakeBuilder struct {
	failOn string
	built  []string
}

func (f *fakeBuilder) Build(rec event.Record) ([]byte, error) {
	if f.failOn == rec.Name {
		return nil, errors.New("encoding error")
	}
	f.built = append(f.built, rec.Name)
	return []byte("BEGIN:VCALENDAR"), nil
}

type fakeDispatcher struct {
	failOn string
	sent   []string
}

func (f *fakeDispatcher) SendInvite(ctx context.Context, recipient string, rec event.Record, ics []byte) error {
	if f.failOn == rec.Name {
		return errors.New("connection reset")
	}
	f.sent = append(f.sent, recipient)
	return nil
}

func batch(names ...string) []mailbox.Message {
	var msgs []mailbox.Message
	for i, n := range names {
		msgs = append(msgs, mailbox.Message{Sender: fmt.Sprintf("sender%d@example.com", i+1), Body: n})
	}
	return msgs
}

func TestRunProcessesAllMessages(t *testing.T) {
	st := &fakeStore{}
	bld := &fakeBuilder{}
	dsp := &fakeDispatcher{}
	p := New(fakeExtractor{}, st, bld, dsp, "box@example.com")

	sum, err := p.Run(context.Background(), batch("one", "two", "three"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Processed != 3 || sum.Sent != 3 {
		t.Errorf("summary = %+v, want 3 processed, 3 sent", sum)
	}
	if len(dsp.sent) != 3 {
		t.Errorf("dispatched %d invites, want 3", len(dsp.sent))
	}
	if dsp.sent[0] != "sender1@example.com" {
		t.Errorf("invite should go back to the original sender, got %s", dsp.sent[0])
	}
}

// A build failure on one message must not prevent the surrounding
// messages from being persisted and invited.
func TestRunIsolatesBuildFailure(t *testing.T) {
	st := &fakeStore{}
	bld := &fakeBuilder{failOn: "two"}
	dsp := &fakeDispatcher{}
	p := New(fakeExtractor{}, st, bld, dsp, "box@example.com")

	sum, err := p.Run(context.Background(), batch("one", "two", "three"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Failed != 1 || sum.Sent != 2 {
		t.Errorf("summary = %+v, want 1 failed, 2 sent", sum)
	}
	if len(st.persisted) != 3 {
		t.Errorf("persisted %d records, want 3 (message 2 still persists)", len(st.persisted))
	}
	wantSent := []string{"sender1@example.com", "sender3@example.com"}
	if len(dsp.sent) != 2 || dsp.sent[0] != wantSent[0] || dsp.sent[1] != wantSent[1] {
		t.Errorf("sent = %v, want %v", dsp.sent, wantSent)
	}
}

func TestRunIsolatesDispatchFailure(t *testing.T) {
	st := &fakeStore{}
	bld := &fakeBuilder{}
	dsp := &fakeDispatcher{failOn: "two"}
	p := New(fakeExtractor{}, st, bld, dsp, "box@example.com")

	sum, err := p.Run(context.Background(), batch("one", "two", "three"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Failed != 1 || sum.Sent != 2 {
		t.Errorf("summary = %+v, want 1 failed, 2 sent", sum)
	}
	if len(st.persisted) != 3 {
		t.Errorf("persisted %d records, want 3", len(st.persisted))
	}
}

// A storage fault is fatal: it aborts the remaining batch.
func TestRunAbortsOnStorageFault(t *testing.T) {
	st := &fakeStore{failOn: "two"}
	bld := &fakeBuilder{}
	dsp := &fakeDispatcher{}
	p := New(fakeExtractor{}, st, bld, dsp, "box@example.com")

	sum, err := p.Run(context.Background(), batch("one", "two", "three"))
	if err == nil {
		t.Fatal("Run() should propagate storage faults")
	}
	if sum.Processed != 1 {
		t.Errorf("processed = %d, want 1 (batch aborted at message 2)", sum.Processed)
	}
	if len(dsp.sent) != 1 {
		t.Errorf("sent = %v, message 3 should never be reached", dsp.sent)
	}
}

// A message whose From header could not be parsed has no reply address;
// the record is still persisted but no dispatch is attempted.
func TestRunMissingSenderFailsWithoutDispatch(t *testing.T) {
	st := &fakeStore{}
	bld := &fakeBuilder{}
	dsp := &fakeDispatcher{}
	p := New(fakeExtractor{}, st, bld, dsp, "box@example.com")

	msgs := batch("one", "two")
	msgs[1].Sender = ""

	sum, err := p.Run(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Failed != 1 || sum.Sent != 1 {
		t.Errorf("summary = %+v, want 1 failed, 1 sent", sum)
	}
	if len(st.persisted) != 2 {
		t.Errorf("persisted %d records, want 2 (missing sender does not block persistence)", len(st.persisted))
	}
	if len(dsp.sent) != 1 || dsp.sent[0] != "sender1@example.com" {
		t.Errorf("sent = %v, want only the message with a sender", dsp.sent)
	}
}

func TestRunSkipsDuplicates(t *testing.T) {
	st := &fakeStore{duplicates: map[string]bool{"two": true}}
	bld := &fakeBuilder{}
	dsp := &fakeDispatcher{}
	p := New(fakeExtractor{}, st, bld, dsp, "box@example.com")

	sum, err := p.Run(context.Background(), batch("one", "two", "three"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Skipped != 1 || sum.Sent != 2 {
		t.Errorf("summary = %+v, want 1 skipped, 2 sent", sum)
	}
	for _, built := range bld.built {
		if built == "two" {
			t.Error("duplicate messages should not reach the invite builder")
		}
	}
}
