package lora

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStatusCanAdvance(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusFailed, true},
		{StatusSent, StatusConfirmed, true},
		{StatusFailed, StatusConfirmed, true},
		{StatusSent, StatusSent, true},
		{StatusReceived, StatusReceived, true},
		{StatusSent, StatusPending, false},
		{StatusConfirmed, StatusSent, false},
		{StatusConfirmed, StatusFailed, false},
		{StatusSent, StatusFailed, false},
		{StatusReceived, StatusConfirmed, false},
		{StatusFailed, StatusSent, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanAdvance(tt.to); got != tt.want {
				t.Errorf("CanAdvance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := NewMessage("node-a", "alice", "hi", now)
	b := NewMessage("node-a", "alice", "hi", now)

	if !strings.HasPrefix(a.ID, "alice-") {
		t.Errorf("ID = %q, want prefix %q", a.ID, "alice-")
	}
	if a.ID == b.ID {
		t.Errorf("NewMessage() returned the same ID twice: %q", a.ID)
	}
	want := Message{ID: a.ID, Sender: "alice", Text: "hi", Timestamp: 1700000000, Origin: "node-a", Status: StatusPending}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("NewMessage() mismatch (-want +got):\n%s", diff)
	}
}

func TestCanonicalLog(t *testing.T) {
	msgs := []Message{
		{ID: "b", Sender: "bob", Text: "second", Timestamp: 20, Origin: "n2", Status: StatusReceived},
		{ID: "z", Sender: "zed", Text: "first", Timestamp: 10, Origin: "n3", Status: StatusSent},
		{ID: "a", Sender: "alice", Text: "also second", Timestamp: 20, Origin: "n1", Status: StatusPending},
	}

	data, err := CanonicalLog(msgs)
	if err != nil {
		t.Fatalf("CanonicalLog() error = %v", err)
	}
	want := `[{"id":"z","sender":"zed","text":"first","timestamp":10,"origin":"n3"},` +
		`{"id":"a","sender":"alice","text":"also second","timestamp":20,"origin":"n1"},` +
		`{"id":"b","sender":"bob","text":"second","timestamp":20,"origin":"n2"}]`
	if string(data) != want {
		t.Errorf("CanonicalLog() =\n%s\nwant\n%s", data, want)
	}

	// Status is local state and must not change the serialization.
	for i := range msgs {
		msgs[i].Status = StatusConfirmed
	}
	again, err := CanonicalLog(msgs)
	if err != nil {
		t.Fatalf("CanonicalLog() error = %v", err)
	}
	if string(again) != want {
		t.Errorf("CanonicalLog() changed with status")
	}

	empty, err := CanonicalLog(nil)
	if err != nil {
		t.Fatalf("CanonicalLog() error = %v", err)
	}
	if string(empty) != "[]" {
		t.Errorf("CanonicalLog(nil) = %s, want []", empty)
	}
}

func TestParseCanonicalLog(t *testing.T) {
	msgs := []Message{
		{ID: "a", Sender: "alice", Text: "hi", Timestamp: 1, Origin: "n1"},
		{ID: "b", Sender: "bob", Text: "yo", Timestamp: 2, Origin: "n2"},
	}
	data, err := CanonicalLog(msgs)
	if err != nil {
		t.Fatalf("CanonicalLog() error = %v", err)
	}
	got, err := ParseCanonicalLog(data)
	if err != nil {
		t.Fatalf("ParseCanonicalLog() error = %v", err)
	}
	if diff := cmp.Diff(msgs, got); diff != "" {
		t.Errorf("ParseCanonicalLog() mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseCanonicalLog([]byte(`[{"id":`)); err == nil {
		t.Errorf("ParseCanonicalLog() accepted a truncated transfer")
	}
}

func TestSummarizeIgnoresStatus(t *testing.T) {
	a, b := NewMemoryLog(), NewMemoryLog()
	msg := Message{ID: "x", Sender: "alice", Text: "hi", Timestamp: 5, Origin: "n1"}

	msg.Status = StatusConfirmed
	a.Add(msg)
	msg.Status = StatusReceived
	b.Add(msg)

	sa, err := Summarize(a)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	sb, err := Summarize(b)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if sa != sb {
		t.Errorf("Summarize() = %+v and %+v, want equal", sa, sb)
	}
	if sa.Count != 1 {
		t.Errorf("Count = %d, want 1", sa.Count)
	}

	empty, err := Summarize(NewMemoryLog())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if empty == sa {
		t.Errorf("Summarize() of an empty log equals a non-empty one")
	}
}

func TestMergeLog(t *testing.T) {
	l := NewMemoryLog()
	l.Add(Message{ID: "mine-sent", Text: "local", Timestamp: 1, Origin: "self", Status: StatusSent})
	l.Add(Message{ID: "mine-failed", Text: "local", Timestamp: 2, Origin: "self", Status: StatusFailed})
	l.Add(Message{ID: "theirs", Text: "local copy", Timestamp: 3, Origin: "peer", Status: StatusReceived})

	incoming := []Message{
		{ID: "mine-sent", Text: "remote copy", Timestamp: 1, Origin: "self"},
		{ID: "mine-failed", Text: "local", Timestamp: 2, Origin: "self"},
		{ID: "theirs", Text: "remote copy", Timestamp: 3, Origin: "peer"},
		{ID: "new", Text: "from peer", Timestamp: 4, Origin: "peer"},
		{ID: "lost", Text: "mine, restored", Timestamp: 5, Origin: "self"},
	}

	added, err := MergeLog(l, "self", incoming)
	if err != nil {
		t.Fatalf("MergeLog() error = %v", err)
	}
	if added != 2 {
		t.Errorf("MergeLog() added = %d, want 2", added)
	}

	got, err := l.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	want := []Message{
		{ID: "mine-sent", Text: "local", Timestamp: 1, Origin: "self", Status: StatusConfirmed},
		{ID: "mine-failed", Text: "local", Timestamp: 2, Origin: "self", Status: StatusConfirmed},
		{ID: "theirs", Text: "local copy", Timestamp: 3, Origin: "peer", Status: StatusReceived},
		{ID: "new", Text: "from peer", Timestamp: 4, Origin: "peer", Status: StatusReceived},
		{ID: "lost", Text: "mine, restored", Timestamp: 5, Origin: "self", Status: StatusConfirmed},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("log after MergeLog() mismatch (-want +got):\n%s", diff)
	}

	again, err := MergeLog(l, "self", incoming)
	if err != nil {
		t.Fatalf("MergeLog() error = %v", err)
	}
	if again != 0 {
		t.Errorf("second MergeLog() added = %d, want 0", again)
	}
}

func TestMemoryLog(t *testing.T) {
	l := NewMemoryLog()
	msg := Message{ID: "m1", Sender: "alice", Text: "hi", Timestamp: 1, Origin: "n1", Status: StatusPending}

	if added, err := l.Add(msg); err != nil || !added {
		t.Fatalf("Add() = %v, %v, want true, nil", added, err)
	}
	if added, _ := l.Add(Message{ID: "m1", Text: "other"}); added {
		t.Errorf("Add() stored a duplicate ID")
	}
	got, ok, err := l.Get("m1")
	if err != nil || !ok || got.Text != "hi" {
		t.Errorf("Get() = %+v, %v, %v", got, ok, err)
	}

	if err := l.SetStatus("m1", StatusSent); err != nil {
		t.Errorf("SetStatus(sent) error = %v", err)
	}
	if err := l.SetStatus("m1", StatusSent); err != nil {
		t.Errorf("SetStatus(sent) again error = %v", err)
	}
	if err := l.SetStatus("m1", StatusPending); !errors.Is(err, ErrStatusRegression) {
		t.Errorf("SetStatus(pending) error = %v, want %v", err, ErrStatusRegression)
	}
	if err := l.SetStatus("nope", StatusSent); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("SetStatus() on unknown id error = %v, want %v", err, ErrMessageNotFound)
	}
	if got, _, _ := l.Get("m1"); got.Status != StatusSent {
		t.Errorf("Status = %s, want %s", got.Status, StatusSent)
	}
}
