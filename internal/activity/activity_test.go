package activity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestPublish_StampsIDAndTime(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "", slog.Default())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	err := p.Publish(context.Background(), Event{Kind: NoteRelayed, DealID: "57", ChannelID: "C1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.subjects) != 1 || fc.subjects[0] != DefaultSubject {
		t.Fatalf("expected one publish on %s, got %v", DefaultSubject, fc.subjects)
	}

	var got Event
	if err := json.Unmarshal(fc.payloads[0], &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Errorf("expected uuid id, got %q", got.ID)
	}
	if !got.At.Equal(fixed) {
		t.Errorf("expected at=%v, got %v", fixed, got.At)
	}
	if got.Kind != NoteRelayed || got.DealID != "57" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestPublish_KeepsExplicitID(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "custom.subject", slog.Default())

	_ = p.Publish(context.Background(), Event{ID: "evt-1", Kind: FileRelayed})

	if fc.subjects[0] != "custom.subject" {
		t.Errorf("expected custom subject, got %s", fc.subjects[0])
	}
	var got Event
	_ = json.Unmarshal(fc.payloads[0], &got)
	if got.ID != "evt-1" {
		t.Errorf("expected id evt-1, got %s", got.ID)
	}
}

func TestPublish_WrapsConnError(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(fc, "", slog.Default())

	if err := p.Publish(context.Background(), Event{Kind: ChannelArchived}); err == nil {
		t.Fatal("expected error from failing connection")
	}
}

func TestClose(t *testing.T) {
	fc := &fakeConn{}
	newPublisher(fc, "", slog.Default()).Close()
	if !fc.closed {
		t.Error("expected connection to be closed")
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Publish(context.Background(), Event{}); err != nil {
		t.Errorf("Nop.Publish returned %v", err)
	}
}
