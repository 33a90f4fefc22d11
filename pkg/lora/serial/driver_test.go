package serial

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/revdeluxe/HDE/pkg/lora"
)

// fakeBridge emulates the bridge firmware on the far end of a pipe.
type fakeBridge struct {
	conn net.Conn

	mu       sync.Mutex
	mode     byte
	pending  []byte
	sent     [][]byte
	rx       []byte
	flags    byte
	config   []byte
	rejectOp byte
}

func newDriver(t *testing.T) (*Driver, *fakeBridge) {
	t.Helper()
	host, device := net.Pipe()
	b := &fakeBridge{conn: device}
	go b.serve()
	d := &Driver{Stream: host}
	t.Cleanup(func() { d.Close() })
	return d, b
}

func (b *fakeBridge) serve() {
	d := &Driver{Stream: b.conn}
	for {
		req, err := d.readBytes()
		if err != nil {
			return
		}
		resp := b.handle(req[0], req[1:])
		if err := d.sendBytes(resp); err != nil {
			return
		}
	}
}

func (b *fakeBridge) handle(op byte, args []byte) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if op == b.rejectOp {
		return []byte{0x01}
	}
	ok := []byte{statusOK}
	switch op {
	case opSetMode:
		b.mode = args[0]
		if lora.Mode(b.mode) == lora.ModeTransmit {
			b.sent = append(b.sent, b.pending)
			b.flags |= flagTxDone
		}
	case opWrite:
		b.pending = append([]byte(nil), args...)
	case opFlags:
		return append(ok, b.flags)
	case opClearFlags:
		b.flags = 0
	case opRead:
		return append(ok, b.rx...)
	case opLinkQuality:
		// -112 dBm, -7.25 dB
		return append(ok, 0xff, 0x90, 0xe3)
	case opConfigure:
		b.config = append([]byte(nil), args...)
	}
	return ok
}

func (b *fakeBridge) receive(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rx = payload
	b.flags |= flagRxDone
}

func TestDriverOverLink(t *testing.T) {
	d, bridge := newDriver(t)
	link, err := lora.NewLink(d)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	link.PollInterval = time.Millisecond

	if err := link.Transmit([]byte{0, 'h', 'i'}, time.Second); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	bridge.mu.Lock()
	sent := bridge.sent
	bridge.mu.Unlock()
	if diff := cmp.Diff([][]byte{{0, 'h', 'i'}}, sent); diff != "" {
		t.Errorf("bridge transmissions mismatch (-want +got):\n%s", diff)
	}

	bridge.receive([]byte{4, 'y', 'o'})
	rec, err := link.ReceiveOnce(time.Second)
	if err != nil {
		t.Fatalf("ReceiveOnce() error = %v", err)
	}
	want := lora.Reception{
		Seq:     4,
		Payload: []byte("yo"),
		Raw:     []byte{4, 'y', 'o'},
		Quality: lora.LinkQuality{RSSI: -112, SNR: -7.25},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("ReceiveOnce() mismatch (-want +got):\n%s", diff)
	}
}

func TestDriverSignalFlags(t *testing.T) {
	d, bridge := newDriver(t)
	bridge.mu.Lock()
	bridge.flags = flagRxDone | flagCRCError
	bridge.mu.Unlock()

	flags, err := d.SignalFlags()
	if err != nil {
		t.Fatalf("SignalFlags() error = %v", err)
	}
	if diff := cmp.Diff(lora.SignalFlags{DataReady: true, Error: true}, flags); diff != "" {
		t.Errorf("SignalFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestDriverConfigure(t *testing.T) {
	d, bridge := newDriver(t)

	if err := d.Configure(lora.PresetLongSlow); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	bridge.mu.Lock()
	cfg := bridge.config
	bridge.mu.Unlock()

	if len(cfg) != 11 {
		t.Fatalf("configure arguments = %d bytes, want 11", len(cfg))
	}
	if got := binary.BigEndian.Uint32(cfg[0:4]); got != 433_000_000 {
		t.Errorf("frequency = %d Hz, want 433000000", got)
	}
	if cfg[4] != 12 {
		t.Errorf("spreading factor = %d, want 12", cfg[4])
	}
	if got := binary.BigEndian.Uint32(cfg[5:9]); got != 125_000 {
		t.Errorf("bandwidth = %d Hz, want 125000", got)
	}
	if cfg[9] != 5 || int8(cfg[10]) != 15 {
		t.Errorf("coding rate, power = %d, %d, want 5, 15", cfg[9], int8(cfg[10]))
	}
}

func TestDriverBridgeError(t *testing.T) {
	d, bridge := newDriver(t)
	bridge.mu.Lock()
	bridge.rejectOp = opSetMode
	bridge.mu.Unlock()

	if err := d.SetMode(lora.ModeSleep); !errors.Is(err, ErrBridge) {
		t.Errorf("SetMode() error = %v, want %v", err, ErrBridge)
	}
	if _, err := lora.NewLink(d); !errors.Is(err, ErrBridge) {
		t.Errorf("NewLink() error = %v, want %v", err, ErrBridge)
	}
}

func TestReadBytesSkipsNoise(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()
	d := &Driver{Stream: host}

	go func() {
		device.Write([]byte{0x00, 0x94, 0x00, 0xc3})
		device.Write([]byte{0x94, 0xc3, 0x10, 0x00})
		device.Write([]byte{0x94, 0xc3, 0x00, 0x02, 'o', 'k'})
		device.Close()
	}()

	got, err := d.readBytes()
	if err != nil {
		t.Fatalf("readBytes() error = %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("readBytes() = %q, want %q", got, "ok")
	}
	if _, err := d.readBytes(); !errors.Is(err, io.EOF) {
		t.Errorf("readBytes() after close error = %v, want %v", err, io.EOF)
	}
}
