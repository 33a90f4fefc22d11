package lora

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/internal/metrics"
)

// DefaultPollInterval is how often the link samples the radio's signal flags while waiting.
const DefaultPollInterval = 50 * time.Millisecond

// State is the radio state tracked by a Link.
type State int32

const (
	StateSleeping State = iota
	StateStandby
	StateReceivingContinuous
	StateReceivingSingle
	StateTransmitting
)

func (s State) String() string {
	switch s {
	case StateSleeping:
		return "sleeping"
	case StateStandby:
		return "standby"
	case StateReceivingContinuous:
		return "receiving-continuous"
	case StateReceivingSingle:
		return "receiving-single"
	case StateTransmitting:
		return "transmitting"
	default:
		return "unknown"
	}
}

// Reception is one payload taken off the air.
type Reception struct {
	// Seq is the chunk sequence byte that prefixed the payload.
	Seq     byte
	Payload []byte
	// Raw is the payload as read from the radio, sequence byte included.
	Raw     []byte
	Quality LinkQuality
}

// Link is the half-duplex state machine owning a radio. Transmit and ReceiveOnce serialize on a single gate,
// so the radio is never transmitting and receiving at once and callers need no lock of their own.
type Link struct {
	PollInterval time.Duration
	Logger       log.Logger

	radio RadioDriver
	gate  chan struct{}
	state atomic.Int32
}

// NewLink takes ownership of radio and puts it to sleep.
func NewLink(radio RadioDriver) (*Link, error) {
	l := &Link{
		PollInterval: DefaultPollInterval,
		Logger:       log.NOOPLogger{},
		radio:        radio,
		gate:         make(chan struct{}, 1),
	}
	if err := radio.SetMode(ModeSleep); err != nil {
		return nil, fmt.Errorf("failed to put radio to sleep: %w", err)
	}
	l.setState(StateSleeping)
	l.gate <- struct{}{}
	return l, nil
}

// State returns the current radio state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// EnterRX resets the radio through sleep and standby, then starts receiving. It waits at most timeout for
// the gate.
func (l *Link) EnterRX(continuous bool, timeout time.Duration) error {
	if !l.acquire(timeout) {
		return fmt.Errorf("radio busy: %w", ErrReceiveTimeout)
	}
	defer l.release()
	return l.enterRX(continuous)
}

// Sleep puts the radio to sleep once the gate is free, waiting at most timeout.
func (l *Link) Sleep(timeout time.Duration) error {
	if !l.acquire(timeout) {
		return ErrTransmitTimeout
	}
	defer l.release()
	if err := l.switchMode(ModeSleep, StateSleeping); err != nil {
		l.standby()
		return err
	}
	return nil
}

// Transmit sends one payload. It waits for an outstanding receive to finish, then blocks until the radio
// reports the transmission done. The whole call is bounded by timeout. The radio is back in standby when
// Transmit returns, whatever the outcome.
func (l *Link) Transmit(payload []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if !l.acquire(timeout) {
		metrics.TransmitTimeouts.Inc()
		return fmt.Errorf("radio busy: %w", ErrTransmitTimeout)
	}
	defer l.release()
	defer l.standby()

	if err := l.switchMode(ModeStandby, StateStandby); err != nil {
		return err
	}
	if err := l.radio.WritePayload(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := l.switchMode(ModeTransmit, StateTransmitting); err != nil {
		return err
	}

	_, done, err := l.poll(deadline, func(f SignalFlags) bool { return f.TxDone })
	if err != nil {
		return err
	}
	if !done {
		metrics.TransmitTimeouts.Inc()
		l.Logger.Warn("Transmission was not confirmed by radio", "size", len(payload), "timeout", timeout)
		return ErrTransmitTimeout
	}
	if err := l.radio.ClearSignalFlags(); err != nil {
		return fmt.Errorf("failed to clear signal flags: %w", err)
	}

	metrics.ChunksTransmitted.Inc()
	return nil
}

// ReceiveOnce waits up to timeout for a single payload. The chunk sequence byte is split off the payload.
func (l *Link) ReceiveOnce(timeout time.Duration) (Reception, error) {
	deadline := time.Now().Add(timeout)
	if !l.acquire(timeout) {
		return Reception{}, ErrReceiveTimeout
	}
	defer l.release()
	defer l.standby()

	if err := l.enterRX(false); err != nil {
		return Reception{}, err
	}

	flags, ready, err := l.poll(deadline, func(f SignalFlags) bool { return f.DataReady || f.Error })
	if err != nil {
		return Reception{}, err
	}
	if !ready {
		return Reception{}, ErrReceiveTimeout
	}

	if flags.Error {
		if err := l.radio.ClearSignalFlags(); err != nil {
			return Reception{}, fmt.Errorf("failed to clear signal flags: %w", err)
		}
		metrics.FrameErrors.WithLabelValues("radio").Inc()
		return Reception{}, ErrRadioPayload
	}

	raw, err := l.radio.ReadPayload()
	if err != nil {
		return Reception{}, fmt.Errorf("failed to read payload: %w", err)
	}
	if err := l.radio.ClearSignalFlags(); err != nil {
		return Reception{}, fmt.Errorf("failed to clear signal flags: %w", err)
	}
	if len(raw) == 0 {
		return Reception{}, ErrTruncated
	}

	quality, err := l.radio.LinkQuality()
	if err != nil {
		l.Logger.Debug("Cannot read link quality", "error", err)
	}
	metrics.ChunksReceived.Inc()
	metrics.LinkRSSI.Set(float64(quality.RSSI))
	metrics.LinkSNR.Set(quality.SNR)

	return Reception{
		Seq:     raw[0],
		Payload: raw[1:],
		Raw:     raw,
		Quality: quality,
	}, nil
}

// ReceiveStream repeatedly calls ReceiveOnce with the given per-call timeout until ctx is done.
// Receive timeouts are not yielded.
func (l *Link) ReceiveStream(ctx context.Context, timeout time.Duration) iter.Seq2[Reception, error] {
	return func(yield func(Reception, error) bool) {
		for ctx.Err() == nil {
			rec, err := l.ReceiveOnce(timeout)
			if errors.Is(err, ErrReceiveTimeout) {
				continue
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

func (l *Link) enterRX(continuous bool) error {
	mode, state := ModeReceiveSingle, StateReceivingSingle
	if continuous {
		mode, state = ModeReceiveContinuous, StateReceivingContinuous
	}

	if err := l.switchMode(ModeSleep, StateSleeping); err != nil {
		return err
	}
	if err := l.switchMode(ModeStandby, StateStandby); err != nil {
		return err
	}
	return l.switchMode(mode, state)
}

func (l *Link) switchMode(mode Mode, state State) error {
	if err := l.radio.SetMode(mode); err != nil {
		return fmt.Errorf("failed to switch radio to %s: %w", mode, err)
	}
	l.setState(state)
	return nil
}

// standby returns the radio to standby, keeping the tracked state honest if the driver refuses.
func (l *Link) standby() {
	if l.State() == StateStandby {
		return
	}
	if err := l.switchMode(ModeStandby, StateStandby); err != nil {
		l.Logger.Error("Cannot return radio to standby", "error", err)
	}
}

// poll samples the signal flags until ready reports true or the deadline passes.
func (l *Link) poll(deadline time.Time, ready func(SignalFlags) bool) (SignalFlags, bool, error) {
	ticker := time.NewTicker(l.PollInterval)
	defer ticker.Stop()
	for {
		flags, err := l.radio.SignalFlags()
		if err != nil {
			return flags, false, fmt.Errorf("failed to read signal flags: %w", err)
		}
		if ready(flags) {
			return flags, true, nil
		}
		if !time.Now().Before(deadline) {
			return flags, false, nil
		}
		<-ticker.C
	}
}

func (l *Link) acquire(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-l.gate:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.gate:
		return true
	case <-timer.C:
		return false
	}
}

func (l *Link) release() {
	l.gate <- struct{}{}
}

func (l *Link) setState(s State) {
	l.state.Store(int32(s))
}
