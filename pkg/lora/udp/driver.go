// Package udp provides a RadioDriver that uses a UDP multicast group as the air.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/pkg/lora"
)

// DefaultGroup is the multicast group nodes join when none is configured.
const DefaultGroup = "224.0.0.69:4404"

const (
	maxDatagramSize = 1500
	rxBuffer        = 64
)

var ErrInvalidDatagram = errors.New("invalid datagram format")

var _ lora.RadioDriver = &Driver{}

// Driver is a RadioDriver over UDP. Each transmission is one datagram tagged with the sending node; datagrams
// tagged with this node, such as the multicast loopback of its own transmissions, are dropped.
type Driver struct {
	NodeID  string
	Quality lora.LinkQuality
	Logger  log.Logger

	conn     net.PacketConn
	dst      net.Addr
	received chan []byte
	done     chan struct{}

	mu      sync.Mutex
	mode    lora.Mode
	pending []byte
	current []byte
	txDone  bool
}

// NewDriver joins the multicast group on the named interface, or on the system default when iface is empty.
func NewDriver(nodeID, group, iface string) (*Driver, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, err
	}

	var intf *net.Interface
	if iface != "" {
		intf, err = net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("could not find interface %q: %w", iface, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", intf, gaddr)
	if err != nil {
		return nil, err
	}
	return newDriver(nodeID, conn, gaddr), nil
}

func newDriver(nodeID string, conn net.PacketConn, dst net.Addr) *Driver {
	d := &Driver{
		NodeID:   nodeID,
		Quality:  lora.LinkQuality{RSSI: -50, SNR: 10},
		Logger:   log.NOOPLogger{},
		conn:     conn,
		dst:      dst,
		received: make(chan []byte, rxBuffer),
		done:     make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *Driver) readLoop() {
	defer close(d.done)
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.Logger.Error("Cannot read datagram", "error", err)
			}
			return
		}

		from, payload, err := decodeDatagram(buf[:n])
		if err != nil {
			d.Logger.Debug("Dropping datagram", "from", addr, "error", err)
			continue
		}
		if from == d.NodeID {
			continue
		}
		select {
		case d.received <- payload:
		default:
			d.Logger.Warn("Receive buffer is full, dropping datagram", "from", addr, "node", from)
		}
	}
}

func (d *Driver) SetMode(mode lora.Mode) error {
	d.mu.Lock()
	d.mode = mode
	if mode != lora.ModeTransmit {
		d.mu.Unlock()
		return nil
	}
	payload := d.pending
	d.pending = nil
	d.mu.Unlock()

	data, err := encodeDatagram(d.NodeID, payload)
	if err != nil {
		return err
	}
	if _, err := d.conn.WriteTo(data, d.dst); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}

	d.mu.Lock()
	d.txDone = true
	d.mu.Unlock()
	return nil
}

func (d *Driver) WritePayload(payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append([]byte(nil), payload...)
	return nil
}

func (d *Driver) SignalFlags() (lora.SignalFlags, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	receiving := d.mode == lora.ModeReceiveSingle || d.mode == lora.ModeReceiveContinuous
	if receiving && d.current == nil {
		select {
		case payload := <-d.received:
			d.current = payload
		default:
		}
	}
	return lora.SignalFlags{
		DataReady: receiving && d.current != nil,
		TxDone:    d.txDone,
	}, nil
}

func (d *Driver) ClearSignalFlags() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txDone = false
	return nil
}

func (d *Driver) ReadPayload() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload := d.current
	d.current = nil
	return payload, nil
}

func (d *Driver) LinkQuality() (lora.LinkQuality, error) {
	return d.Quality, nil
}

// Close leaves the group and waits for the read loop to stop.
func (d *Driver) Close() error {
	err := d.conn.Close()
	<-d.done
	return err
}

func encodeDatagram(node string, payload []byte) ([]byte, error) {
	if len(node) > 0xff {
		return nil, lora.ErrFieldTooLong
	}
	data := make([]byte, 0, 1+len(node)+len(payload))
	data = append(data, byte(len(node)))
	data = append(data, node...)
	return append(data, payload...), nil
}

func decodeDatagram(data []byte) (string, []byte, error) {
	if len(data) == 0 || len(data) < 1+int(data[0]) {
		return "", nil, ErrInvalidDatagram
	}
	n := int(data[0])
	return string(data[1 : 1+n]), append([]byte(nil), data[1+n:]...), nil
}
