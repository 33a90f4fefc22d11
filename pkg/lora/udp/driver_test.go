package udp

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/revdeluxe/HDE/pkg/lora"
)

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open UDP socket: %v", err)
	}
	return conn
}

func testLink(t *testing.T, d *Driver) *lora.Link {
	t.Helper()
	link, err := lora.NewLink(d)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	link.PollInterval = time.Millisecond
	return link
}

func TestDriverPair(t *testing.T) {
	connA, connB := listen(t), listen(t)
	a := newDriver("A", connA, connB.LocalAddr())
	b := newDriver("B", connB, connA.LocalAddr())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	linkA, linkB := testLink(t, a), testLink(t, b)

	if err := linkA.Transmit([]byte{0, 'h', 'i'}, time.Second); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	rec, err := linkB.ReceiveOnce(2 * time.Second)
	if err != nil {
		t.Fatalf("ReceiveOnce() error = %v", err)
	}
	if rec.Seq != 0 || string(rec.Payload) != "hi" {
		t.Errorf("ReceiveOnce() = %+v", rec)
	}
}

func TestDriverDropsOwnDatagrams(t *testing.T) {
	conn := listen(t)
	d := newDriver("A", conn, conn.LocalAddr())
	t.Cleanup(func() { d.Close() })
	link := testLink(t, d)

	if err := link.Transmit([]byte{0, 'x'}, time.Second); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if _, err := link.ReceiveOnce(50 * time.Millisecond); !errors.Is(err, lora.ErrReceiveTimeout) {
		t.Errorf("ReceiveOnce() error = %v, want %v", err, lora.ErrReceiveTimeout)
	}
}

func TestDecodeDatagram(t *testing.T) {
	data, err := encodeDatagram("node", []byte{1, 2})
	if err != nil {
		t.Fatalf("encodeDatagram() error = %v", err)
	}
	from, payload, err := decodeDatagram(data)
	if err != nil || from != "node" || len(payload) != 2 {
		t.Errorf("decodeDatagram() = %q, %v, %v", from, payload, err)
	}
	if _, _, err := decodeDatagram([]byte{10, 'x'}); !errors.Is(err, ErrInvalidDatagram) {
		t.Errorf("decodeDatagram() error = %v, want %v", err, ErrInvalidDatagram)
	}
}
