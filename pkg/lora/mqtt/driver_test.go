package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/revdeluxe/HDE/pkg/lora"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func airMessage(t *testing.T, from string, payload []byte) fakeMessage {
	t.Helper()
	data, err := encodeAir(from, payload)
	if err != nil {
		t.Fatalf("encodeAir() error = %v", err)
	}
	return fakeMessage{topic: "hde/air", payload: data}
}

func TestAirEncoding(t *testing.T) {
	data, err := encodeAir("node-a", []byte{0, 1, 2})
	if err != nil {
		t.Fatalf("encodeAir() error = %v", err)
	}
	from, payload, err := decodeAir(data)
	if err != nil {
		t.Fatalf("decodeAir() error = %v", err)
	}
	if from != "node-a" || !cmp.Equal(payload, []byte{0, 1, 2}) {
		t.Errorf("decodeAir() = %q, %v", from, payload)
	}

	for _, bad := range [][]byte{nil, {5, 'a'}} {
		if _, _, err := decodeAir(bad); !errors.Is(err, ErrInvalidAirPayload) {
			t.Errorf("decodeAir(%v) error = %v, want %v", bad, err, ErrInvalidAirPayload)
		}
	}
}

func TestDriverReceivesThroughLink(t *testing.T) {
	d := NewDriver("tcp://localhost:1883", "B")
	d.messagesCh = make(chan []byte, 8)

	d.handleMessage(nil, airMessage(t, "B", []byte{0, 'e', 'c', 'h', 'o'}))
	d.handleMessage(nil, fakeMessage{topic: "hde/air", payload: []byte{9}})
	d.handleMessage(nil, airMessage(t, "A", []byte{0, 'h', 'i'}))

	link, err := lora.NewLink(d)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	link.PollInterval = time.Millisecond

	rec, err := link.ReceiveOnce(time.Second)
	if err != nil {
		t.Fatalf("ReceiveOnce() error = %v", err)
	}
	if string(rec.Payload) != "hi" || rec.Quality != d.Quality {
		t.Errorf("ReceiveOnce() = %+v", rec)
	}
	if _, err := link.ReceiveOnce(20 * time.Millisecond); !errors.Is(err, lora.ErrReceiveTimeout) {
		t.Errorf("ReceiveOnce() error = %v, want %v", err, lora.ErrReceiveTimeout)
	}
}

func TestDriverHoldsPayloadOutsideRX(t *testing.T) {
	d := NewDriver("tcp://localhost:1883", "B")
	d.messagesCh = make(chan []byte, 8)
	d.handleMessage(nil, airMessage(t, "A", []byte{0, 'x'}))

	if err := d.SetMode(lora.ModeStandby); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if flags, _ := d.SignalFlags(); flags.DataReady {
		t.Errorf("DataReady set in standby")
	}
	if err := d.SetMode(lora.ModeReceiveSingle); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if flags, _ := d.SignalFlags(); !flags.DataReady {
		t.Errorf("DataReady not set in receive mode")
	}
}

func TestDriverTransmitNotConnected(t *testing.T) {
	d := NewDriver("tcp://localhost:1883", "A")
	if err := d.WritePayload([]byte{0, 'x'}); err != nil {
		t.Fatalf("WritePayload() error = %v", err)
	}
	if err := d.SetMode(lora.ModeTransmit); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetMode(tx) error = %v, want %v", err, ErrNotConnected)
	}
	if err := d.HandleMessages(8); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HandleMessages() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestUplinkPayload(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	frame := lora.Frame{Sender: "A"}
	msg := &lora.UserMessage{From: "A", ID: "alice-1", Sender: "alice", Text: "hi", Timestamp: 1714564800}

	topic, data, ok := uplinkPayload("hde", frame, msg, now)
	if !ok {
		t.Fatal("uplinkPayload() ok = false")
	}
	if topic != "hde/messages/A" {
		t.Errorf("topic = %q, want hde/messages/A", topic)
	}
	want := `{"id":"alice-1","sender":"alice","text":"hi","timestamp":1714564800,"origin":"A","received_at":"2024-05-01T12:00:00Z"}`
	if string(data) != want {
		t.Errorf("payload = %s, want %s", data, want)
	}

	if _, _, ok := uplinkPayload("hde", frame, &lora.HandshakeReq{From: "A"}, now); ok {
		t.Errorf("uplinkPayload() forwarded a control message")
	}
}
