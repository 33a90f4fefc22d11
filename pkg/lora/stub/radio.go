// Package stub provides in-memory radios for host-side runs and tests.
package stub

import (
	"sync"
	"time"

	"github.com/revdeluxe/HDE/pkg/lora"
)

// rxCapacity bounds each radio's receive FIFO; the oldest payload is dropped when it overflows.
const rxCapacity = 64

var _ lora.RadioDriver = &Radio{}

// Ether is a shared, lossless medium. Every transmission reaches every other radio attached to it.
type Ether struct {
	mu     sync.Mutex
	radios []*Radio

	// Drop, when set, decides whether a transmission from one radio is lost for a given receiver.
	Drop func(from, to *Radio, payload []byte) bool
}

func NewEther() *Ether {
	return &Ether{}
}

// NewRadio attaches a new radio to the ether.
func (e *Ether) NewRadio(name string) *Radio {
	r := &Radio{Name: name, ether: e, Quality: lora.LinkQuality{RSSI: -60, SNR: 9.5}}
	e.mu.Lock()
	e.radios = append(e.radios, r)
	e.mu.Unlock()
	return r
}

func (e *Ether) broadcast(from *Radio, payload []byte) {
	e.mu.Lock()
	radios := append([]*Radio(nil), e.radios...)
	drop := e.Drop
	e.mu.Unlock()

	for _, r := range radios {
		if r == from || (drop != nil && drop(from, r, payload)) {
			continue
		}
		r.InjectRx(payload)
	}
}

// Radio is an in-memory RadioDriver. It keeps a log of transmitted payloads and mode switches for inspection.
type Radio struct {
	Name    string
	Quality lora.LinkQuality
	// Airtime delays the transmit-done signal after a switch to transmit mode.
	Airtime time.Duration

	ether *Ether

	mu      sync.Mutex
	mode    lora.Mode
	pending []byte
	rx      [][]byte
	rxError bool
	txDone  bool
	stuck   bool
	txLog   [][]byte
	modes   []lora.Mode
}

// NewRadio returns a radio that is not attached to any ether. Payloads reach it only through InjectRx.
func NewRadio(name string) *Radio {
	return &Radio{Name: name, Quality: lora.LinkQuality{RSSI: -60, SNR: 9.5}}
}

func (r *Radio) SetMode(mode lora.Mode) error {
	r.mu.Lock()
	r.mode = mode
	r.modes = append(r.modes, mode)
	if mode != lora.ModeTransmit || r.stuck {
		r.mu.Unlock()
		return nil
	}

	payload := r.pending
	r.pending = nil
	r.txLog = append(r.txLog, payload)
	airtime := r.Airtime
	r.mu.Unlock()

	if r.ether != nil {
		r.ether.broadcast(r, payload)
	}
	if airtime > 0 {
		time.AfterFunc(airtime, r.markSent)
	} else {
		r.markSent()
	}
	return nil
}

func (r *Radio) markSent() {
	r.mu.Lock()
	r.txDone = true
	r.mu.Unlock()
}

func (r *Radio) WritePayload(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append([]byte(nil), payload...)
	return nil
}

func (r *Radio) SignalFlags() (lora.SignalFlags, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receiving := r.mode == lora.ModeReceiveSingle || r.mode == lora.ModeReceiveContinuous
	return lora.SignalFlags{
		DataReady: receiving && len(r.rx) > 0,
		TxDone:    r.txDone,
		Error:     receiving && r.rxError,
	}, nil
}

func (r *Radio) ClearSignalFlags() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txDone = false
	r.rxError = false
	return nil
}

func (r *Radio) ReadPayload() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rx) == 0 {
		return nil, nil
	}
	payload := r.rx[0]
	r.rx = r.rx[1:]
	return payload, nil
}

func (r *Radio) LinkQuality() (lora.LinkQuality, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Quality, nil
}

// InjectRx queues a payload as if it had been received over the air.
func (r *Radio) InjectRx(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rx) == rxCapacity {
		r.rx = r.rx[1:]
	}
	r.rx = append(r.rx, append([]byte(nil), payload...))
}

// InjectError raises the payload error flag, as a radio does after a corrupted reception.
func (r *Radio) InjectError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxError = true
}

// SetStuck makes the radio swallow transmissions without ever raising the transmit-done signal.
func (r *Radio) SetStuck(stuck bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stuck = stuck
}

// Mode returns the current mode.
func (r *Radio) Mode() lora.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// TxLog returns a copy of every payload transmitted so far.
func (r *Radio) TxLog() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.txLog))
	for i, p := range r.txLog {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Modes returns the history of mode switches.
func (r *Radio) Modes() []lora.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lora.Mode(nil), r.modes...)
}
