package lora

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// pipeExchanger connects two sessions in memory.
type pipeExchanger struct {
	in  <-chan Control
	out chan<- Control

	mu   sync.Mutex
	sent []Control
}

func newPipe() (*pipeExchanger, *pipeExchanger) {
	ab := make(chan Control, 256)
	ba := make(chan Control, 256)
	return &pipeExchanger{in: ba, out: ab}, &pipeExchanger{in: ab, out: ba}
}

func (p *pipeExchanger) Send(msg Control) error {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	p.out <- msg
	return nil
}

func (p *pipeExchanger) Receive(timeout time.Duration) (Control, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-p.in:
		return msg, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	}
}

func (p *pipeExchanger) batches() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []uint32
	for _, msg := range p.sent {
		if c, ok := msg.(*Chunk); ok && !slices.Contains(ids, c.BatchID) {
			ids = append(ids, c.BatchID)
		}
	}
	return ids
}

func testSyncer(self string, msgs ...Message) *Syncer {
	l := NewMemoryLog()
	for _, m := range msgs {
		l.Add(m)
	}
	s := NewSyncer(self, l, NewReassembler(time.Minute))
	s.RoundTimeout = 2 * time.Second
	return s
}

type syncOutcome struct {
	res SyncResult
	err error
}

// runSync runs a session initiated by a and answered by b.
func runSync(t *testing.T, a, b *Syncer) (SyncResult, SyncResult, *pipeExchanger, *pipeExchanger) {
	t.Helper()
	exA, exB := newPipe()

	responder := make(chan syncOutcome, 1)
	go func() {
		msg, err := exB.Receive(time.Second)
		if err != nil {
			responder <- syncOutcome{err: err}
			return
		}
		res, err := b.Respond(exB, msg.(*Checksum))
		responder <- syncOutcome{res: res, err: err}
	}()

	resA, err := a.Initiate(exA, b.Self)
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	out := <-responder
	if out.err != nil {
		t.Fatalf("Respond() error = %v", out.err)
	}
	return resA, out.res, exA, exB
}

func assertSameLog(t *testing.T, a, b *Syncer) {
	t.Helper()
	ma, _ := a.Log.All()
	mb, _ := b.Log.All()
	if diff := cmp.Diff(ma, mb, cmpopts.IgnoreFields(Message{}, "Status")); diff != "" {
		t.Errorf("logs differ after sync (-%s +%s):\n%s", a.Self, b.Self, diff)
	}
}

var (
	shared = Message{ID: "alice-1", Sender: "alice", Text: "hello", Timestamp: 100, Origin: "A", Status: StatusSent}
	extraA = Message{ID: "alice-2", Sender: "alice", Text: "only on A", Timestamp: 200, Origin: "A", Status: StatusFailed}
	extraB = Message{ID: "bob-1", Sender: "bob", Text: "only on B", Timestamp: 150, Origin: "B", Status: StatusSent}
)

func TestSyncIdenticalLogs(t *testing.T) {
	a := testSyncer("A", shared)
	peerCopy := shared
	peerCopy.Status = StatusReceived
	b := testSyncer("B", peerCopy)

	resA, resB, exA, exB := runSync(t, a, b)

	if !resA.Converged || !resB.Converged {
		t.Errorf("Converged = %v/%v, want true/true", resA.Converged, resB.Converged)
	}
	if resA.Rounds != 0 || len(exA.batches()) != 0 || len(exB.batches()) != 0 {
		t.Errorf("identical logs transferred data: rounds %d, batches %d/%d",
			resA.Rounds, len(exA.batches()), len(exB.batches()))
	}
}

func TestSyncOneSidedDifference(t *testing.T) {
	tests := []struct {
		name      string
		initiator []Message
		responder []Message
		// initiatorPushes tells which side transfers its log.
		initiatorPushes bool
	}{
		{name: "initiator ahead", initiator: []Message{shared, extraA}, responder: []Message{shared}, initiatorPushes: true},
		{name: "responder ahead", initiator: []Message{shared}, responder: []Message{shared, extraB}, initiatorPushes: false},
		{name: "responder empty", initiator: []Message{extraA}, responder: nil, initiatorPushes: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testSyncer("A", tt.initiator...)
			b := testSyncer("B", tt.responder...)

			resA, resB, exA, exB := runSync(t, a, b)

			if !resA.Converged || !resB.Converged {
				t.Fatalf("Converged = %v/%v, want true/true", resA.Converged, resB.Converged)
			}
			pusher, idle := exA, exB
			if !tt.initiatorPushes {
				pusher, idle = exB, exA
			}
			if n := len(pusher.batches()); n != 1 {
				t.Errorf("pusher sent %d transfers, want 1", n)
			}
			if n := len(idle.batches()); n != 0 {
				t.Errorf("puller sent %d transfers, want 0", n)
			}
			if resA.Merged+resB.Merged != 1 {
				t.Errorf("Merged = %d+%d, want 1 in total", resA.Merged, resB.Merged)
			}
			if resA.ChunksSent != resB.ChunksReceived || resB.ChunksSent != resA.ChunksReceived {
				t.Errorf("chunk counts disagree: A sent %d received %d, B sent %d received %d",
					resA.ChunksSent, resA.ChunksReceived, resB.ChunksSent, resB.ChunksReceived)
			}
			assertSameLog(t, a, b)
		})
	}
}

func TestSyncDisjointLogs(t *testing.T) {
	a := testSyncer("A", extraA)
	b := testSyncer("B", extraB)

	resA, resB, exA, exB := runSync(t, a, b)

	if !resA.Converged || !resB.Converged {
		t.Fatalf("Converged = %v/%v, want true/true", resA.Converged, resB.Converged)
	}
	if len(exA.batches()) != 1 || len(exB.batches()) != 1 {
		t.Errorf("transfers = %d/%d, want 1/1", len(exA.batches()), len(exB.batches()))
	}
	if resA.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2", resA.Rounds)
	}
	assertSameLog(t, a, b)

	// A's own message came back in B's log, which confirms it.
	got, _, _ := a.Log.Get(extraA.ID)
	if got.Status != StatusConfirmed {
		t.Errorf("own message status = %s, want %s", got.Status, StatusConfirmed)
	}
	got, _, _ = a.Log.Get(extraB.ID)
	if got.Status != StatusReceived {
		t.Errorf("merged message status = %s, want %s", got.Status, StatusReceived)
	}
}

func TestSyncSmallChunks(t *testing.T) {
	a := testSyncer("A", shared, extraA, extraB)
	a.ChunkSize = 16
	b := testSyncer("B")

	resA, resB, _, _ := runSync(t, a, b)

	if !resA.Converged {
		t.Fatalf("Converged = false, want true")
	}
	if resA.ChunksSent < 2 || resA.ChunksSent != resB.ChunksReceived {
		t.Errorf("ChunksSent = %d, ChunksReceived = %d", resA.ChunksSent, resB.ChunksReceived)
	}
	if resB.Merged != 3 {
		t.Errorf("Merged = %d, want 3", resB.Merged)
	}
	assertSameLog(t, a, b)
}

func TestSyncSilentPeer(t *testing.T) {
	a := testSyncer("A", shared)
	a.RoundTimeout = 50 * time.Millisecond
	exA, _ := newPipe()

	start := time.Now()
	res, err := a.Initiate(exA, "B")
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if res.Converged {
		t.Errorf("Converged = true with a silent peer")
	}
	if res.Outcome() != "incomplete" {
		t.Errorf("Outcome() = %q, want incomplete", res.Outcome())
	}
	if elapsed := time.Since(start); elapsed < a.RoundTimeout {
		t.Errorf("Initiate() returned after %v, before the round timeout", elapsed)
	}
}

func TestPushes(t *testing.T) {
	tests := []struct {
		name          string
		local, remote LogSummary
		initiator     bool
		want          bool
	}{
		{name: "more messages", local: LogSummary{Count: 3}, remote: LogSummary{Count: 2}, want: true},
		{name: "fewer messages", local: LogSummary{Count: 2}, remote: LogSummary{Count: 3}, initiator: true, want: false},
		{name: "tie initiator", local: LogSummary{Count: 2}, remote: LogSummary{Count: 2}, initiator: true, want: true},
		{name: "tie responder", local: LogSummary{Count: 2}, remote: LogSummary{Count: 2}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pushes(tt.local, tt.remote, tt.initiator); got != tt.want {
				t.Errorf("pushes() = %v, want %v", got, tt.want)
			}
			if mirror := pushes(tt.remote, tt.local, !tt.initiator); mirror == tt.want {
				t.Errorf("both sides reached the same decision")
			}
		})
	}
}
