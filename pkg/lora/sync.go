package lora

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/internal/metrics"
)

const (
	DefaultSyncRoundTimeout = 30 * time.Second
	DefaultSyncRounds       = 3
	// DefaultSyncChunkSize keeps a CHUNK control frame within a single air payload.
	DefaultSyncChunkSize = 160
)

// SyncState tracks reconciliation with one peer.
type SyncState struct {
	LocalCRC   uint32    `json:"local_crc"`
	RemoteCRC  uint32    `json:"remote_crc"`
	InProgress bool      `json:"in_progress"`
	LastResult string    `json:"last_result,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SyncResult describes one finished sync session.
type SyncResult struct {
	Peer      string     `json:"peer"`
	Converged bool       `json:"converged"`
	Local     LogSummary `json:"local"`
	Remote    LogSummary `json:"remote"`
	Rounds    int        `json:"rounds"`
	// ChunksSent and ChunksReceived count CHUNK control messages of log transfers.
	ChunksSent     int `json:"chunks_sent"`
	ChunksReceived int `json:"chunks_received"`
	// Merged is the number of messages added to the local log.
	Merged int `json:"merged"`
}

// Outcome is the user-facing label of the result.
func (r SyncResult) Outcome() string {
	if r.Converged {
		return "converged"
	}
	return "incomplete"
}

// Syncer runs checksum-sync sessions over an Exchanger.
//
// Both sides first exchange a checksum of their canonical log. Equal checksums end the session without a
// transfer. Otherwise the side holding more messages (the initiator on a tie) pushes its whole log as CHUNK
// messages; the other side merges it and answers with ACK_OK when the checksums now match, or with its new
// checksum, after which the roles are evaluated again.
type Syncer struct {
	Self        string
	Log         MessageLog
	Reassembler *Reassembler
	// ChunkSize is the log bytes carried by one CHUNK message.
	ChunkSize    int
	RoundTimeout time.Duration
	MaxRounds    int
	Logger       log.Logger
}

func NewSyncer(self string, l MessageLog, r *Reassembler) *Syncer {
	return &Syncer{
		Self:         self,
		Log:          l,
		Reassembler:  r,
		ChunkSize:    DefaultSyncChunkSize,
		RoundTimeout: DefaultSyncRoundTimeout,
		MaxRounds:    DefaultSyncRounds,
		Logger:       log.NOOPLogger{},
	}
}

// Initiate starts a session with peer. A session that does not converge is reported through
// SyncResult.Converged; the error is reserved for local failures.
func (s *Syncer) Initiate(ex Exchanger, peer string) (SyncResult, error) {
	res := SyncResult{Peer: peer}
	local, err := Summarize(s.Log)
	if err != nil {
		return res, err
	}
	res.Local = local

	if err := s.sendChecksum(ex, local, true); err != nil {
		return s.finish(res, err)
	}

	reply, err := s.await(ex, peer, func(msg Control) bool {
		switch m := msg.(type) {
		case *Checksum:
			return true
		case *AckOk:
			return m.AckFor == ""
		}
		return false
	})
	if err != nil {
		return s.finish(res, err)
	}

	switch r := reply.(type) {
	case *AckOk:
		res.Remote = local
		res.Converged = true
		return s.finish(res, nil)
	case *Checksum:
		res.Remote = LogSummary{CRC: r.CRC, Count: r.Count}
	}
	return s.reconcile(ex, res, true)
}

// Respond answers a checksum received from a peer that initiated a session.
func (s *Syncer) Respond(ex Exchanger, first *Checksum) (SyncResult, error) {
	res := SyncResult{Peer: first.From, Remote: LogSummary{CRC: first.CRC, Count: first.Count}}
	local, err := Summarize(s.Log)
	if err != nil {
		return res, err
	}
	res.Local = local

	if local.CRC == res.Remote.CRC {
		err := ex.Send(&AckOk{From: s.Self, CRC: local.CRC, Timestamp: time.Now().Unix()})
		res.Converged = err == nil
		return s.finish(res, err)
	}

	if err := s.sendChecksum(ex, local, false); err != nil {
		return s.finish(res, err)
	}
	return s.reconcile(ex, res, false)
}

func (s *Syncer) reconcile(ex Exchanger, res SyncResult, initiator bool) (SyncResult, error) {
	for res.Rounds < s.MaxRounds {
		res.Rounds++

		if pushes(res.Local, res.Remote, initiator) {
			sent, err := s.push(ex)
			res.ChunksSent += sent
			if err != nil {
				return s.finish(res, err)
			}

			verdict, err := s.await(ex, res.Peer, func(msg Control) bool {
				switch m := msg.(type) {
				case *Checksum:
					return true
				case *AckOk:
					return m.AckFor == ""
				}
				return false
			})
			if err != nil {
				return s.finish(res, err)
			}
			switch v := verdict.(type) {
			case *AckOk:
				res.Remote = res.Local
				res.Converged = true
				return s.finish(res, nil)
			case *Checksum:
				res.Remote = LogSummary{CRC: v.CRC, Count: v.Count}
			}
			continue
		}

		data, received, err := s.pull(ex, res.Peer)
		res.ChunksReceived += received
		if err != nil {
			return s.finish(res, err)
		}
		msgs, err := ParseCanonicalLog(data)
		if err != nil {
			s.Logger.Warn("Discarding log transfer", "peer", res.Peer, "error", err)
			return s.finish(res, nil)
		}
		added, err := MergeLog(s.Log, s.Self, msgs)
		res.Merged += added
		if err != nil {
			return res, fmt.Errorf("failed to merge log from %s: %w", res.Peer, err)
		}
		if res.Local, err = Summarize(s.Log); err != nil {
			return res, err
		}

		if res.Local.CRC == res.Remote.CRC {
			err := ex.Send(&AckOk{From: s.Self, CRC: res.Local.CRC, Timestamp: time.Now().Unix()})
			res.Converged = err == nil
			return s.finish(res, err)
		}
		if err := s.sendChecksum(ex, res.Local, false); err != nil {
			return s.finish(res, err)
		}
	}
	return s.finish(res, nil)
}

// pushes decides which side transfers its log. Both sides evaluate it with the same summaries and reach
// opposite answers.
func pushes(local, remote LogSummary, initiator bool) bool {
	if local.Count != remote.Count {
		return local.Count > remote.Count
	}
	return initiator
}

func (s *Syncer) push(ex Exchanger) (int, error) {
	msgs, err := s.Log.All()
	if err != nil {
		return 0, fmt.Errorf("failed to read log: %w", err)
	}
	data, err := CanonicalLog(msgs)
	if err != nil {
		return 0, err
	}

	pieces := ChunkFrame(data, s.ChunkSize)
	batch := rand.Uint32()
	for i, piece := range pieces {
		err := ex.Send(&Chunk{
			From:      s.Self,
			BatchID:   batch,
			Index:     i + 1,
			Total:     len(pieces),
			Data:      piece[1:],
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			return i, err
		}
	}
	s.Logger.Debug("Log pushed", "batch", batch, "chunks", len(pieces), "bytes", len(data))
	return len(pieces), nil
}

func (s *Syncer) pull(ex Exchanger, peer string) ([]byte, int, error) {
	received := 0
	for {
		msg, err := ex.Receive(s.RoundTimeout)
		if err != nil {
			return nil, received, err
		}
		c, ok := msg.(*Chunk)
		if !ok || c.From != peer {
			continue
		}
		received++
		if data, done := s.Reassembler.AddChunk(peer, c.BatchID, c.Index, c.Total, c.Data, time.Now()); done {
			return data, received, nil
		}
	}
}

func (s *Syncer) await(ex Exchanger, peer string, accept func(Control) bool) (Control, error) {
	deadline := time.Now().Add(s.RoundTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrReceiveTimeout
		}
		msg, err := ex.Receive(remaining)
		if err != nil {
			return nil, err
		}
		if msg.Source() == peer && accept(msg) {
			return msg, nil
		}
	}
}

func (s *Syncer) sendChecksum(ex Exchanger, sum LogSummary, open bool) error {
	return ex.Send(&Checksum{From: s.Self, CRC: sum.CRC, Count: sum.Count, Open: open, Timestamp: time.Now().Unix()})
}

// finish logs the session outcome. Timeouts end the session as incomplete without an error.
func (s *Syncer) finish(res SyncResult, err error) (SyncResult, error) {
	if errors.Is(err, ErrReceiveTimeout) || errors.Is(err, ErrTransmitTimeout) {
		s.Logger.Info("Sync session timed out", "peer", res.Peer, "rounds", res.Rounds, "error", err)
		err = nil
	}
	if err != nil {
		metrics.SyncSessions.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.SyncSessions.WithLabelValues(res.Outcome()).Inc()
	s.Logger.Info("Sync session finished", "peer", res.Peer, "outcome", res.Outcome(),
		"rounds", res.Rounds, "sent", res.ChunksSent, "received", res.ChunksReceived, "merged", res.Merged)
	return res, nil
}
