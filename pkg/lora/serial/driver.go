// Package serial drives a LoRa radio attached to a USB-serial bridge.
//
// The bridge firmware owns the radio chip and executes one command per request. Requests and responses use
// the same stream framing: a 0x94 0xC3 magic, a big-endian uint16 length and the PDU. A request PDU starts
// with the opcode followed by its arguments; a response PDU starts with a status byte followed by the result.
package serial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"go.bug.st/serial"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/pkg/lora"
)

const DefaultBaudRate = 115200

const maxPDUSize = 512

// Bridge opcodes.
const (
	opSetMode     byte = 0x01
	opWrite       byte = 0x02
	opFlags       byte = 0x03
	opClearFlags  byte = 0x04
	opRead        byte = 0x05
	opLinkQuality byte = 0x06
	opConfigure   byte = 0x07
)

// Flag bits returned by opFlags.
const (
	flagRxDone   byte = 1 << 0
	flagTxDone   byte = 1 << 1
	flagCRCError byte = 1 << 2
)

const statusOK byte = 0x00

var (
	// ErrBridge is returned when the bridge answers a command with a non-zero status.
	ErrBridge = errors.New("bridge rejected command")
	// ErrInvalidResponse indicates a problem in structure of a bridge response.
	ErrInvalidResponse = errors.New("invalid bridge response format")
)

var _ lora.RadioDriver = &Driver{}

// Open opens the serial port of a bridge at the given baud rate.
func Open(port string, baudRate int) (*Driver, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	return &Driver{Stream: p, Logger: log.NOOPLogger{}}, nil
}

// Driver is a RadioDriver talking to a bridge over a stream (a serial port, or a pipe in tests).
type Driver struct {
	Stream io.ReadWriteCloser
	Logger log.Logger
	lock   sync.Mutex
}

// Configure applies modulation settings to the radio.
func (d *Driver) Configure(p lora.RadioPreset) error {
	args := make([]byte, 0, 11)
	args = binary.BigEndian.AppendUint32(args, uint32(math.Round(p.FrequencyMHz*1e6)))
	args = append(args, p.SpreadingFactor)
	args = binary.BigEndian.AppendUint32(args, uint32(math.Round(p.BandwidthKHz*1e3)))
	args = append(args, p.CodingRate, byte(p.TxPowerDBm))

	if _, err := d.call(opConfigure, args); err != nil {
		return fmt.Errorf("failed to apply preset %s: %w", p.Name, err)
	}
	d.logger().Info("Radio configured", "preset", p.Name, "frequency", p.FrequencyMHz,
		"sf", p.SpreadingFactor, "bandwidth", p.BandwidthKHz, "cr", p.CodingRate)
	return nil
}

func (d *Driver) SetMode(mode lora.Mode) error {
	_, err := d.call(opSetMode, []byte{byte(mode)})
	return err
}

func (d *Driver) WritePayload(payload []byte) error {
	if len(payload) > math.MaxUint8 {
		return fmt.Errorf("payload of %d bytes exceeds the radio FIFO", len(payload))
	}
	_, err := d.call(opWrite, payload)
	return err
}

func (d *Driver) SignalFlags() (lora.SignalFlags, error) {
	resp, err := d.call(opFlags, nil)
	if err != nil {
		return lora.SignalFlags{}, err
	}
	if len(resp) != 1 {
		return lora.SignalFlags{}, ErrInvalidResponse
	}
	return lora.SignalFlags{
		DataReady: resp[0]&flagRxDone != 0,
		TxDone:    resp[0]&flagTxDone != 0,
		Error:     resp[0]&flagCRCError != 0,
	}, nil
}

func (d *Driver) ClearSignalFlags() error {
	_, err := d.call(opClearFlags, nil)
	return err
}

func (d *Driver) ReadPayload() ([]byte, error) {
	return d.call(opRead, nil)
}

// LinkQuality decodes RSSI as a signed 16-bit dBm value and SNR in quarter dB steps, as reported by the chip.
func (d *Driver) LinkQuality() (lora.LinkQuality, error) {
	resp, err := d.call(opLinkQuality, nil)
	if err != nil {
		return lora.LinkQuality{}, err
	}
	if len(resp) != 3 {
		return lora.LinkQuality{}, ErrInvalidResponse
	}
	return lora.LinkQuality{
		RSSI: int(int16(binary.BigEndian.Uint16(resp[:2]))),
		SNR:  float64(int8(resp[2])) / 4,
	}, nil
}

func (d *Driver) Close() error {
	return d.Stream.Close()
}

// call sends one command and waits for its response.
func (d *Driver) call(op byte, args []byte) ([]byte, error) {
	req := make([]byte, 0, 1+len(args))
	req = append(req, op)
	req = append(req, args...)

	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.sendBytes(req); err != nil {
		return nil, fmt.Errorf("failed to send command %#04x: %w", op, err)
	}
	resp, err := d.readBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read response to %#04x: %w", op, err)
	}
	if len(resp) == 0 {
		return nil, ErrInvalidResponse
	}
	if resp[0] != statusOK {
		return nil, fmt.Errorf("command %#04x, status %#04x: %w", op, resp[0], ErrBridge)
	}
	return resp[1:], nil
}

func (d *Driver) readBytes() ([]byte, error) {
	header := make([]byte, 4)

	for {
		_, err := io.ReadFull(d.Stream, header[:1])
		if err != nil {
			return nil, err
		}
		if header[0] != 0x94 {
			continue
		}

		_, err = io.ReadFull(d.Stream, header[1:2])
		if err != nil {
			return nil, err
		}
		if header[1] != 0xc3 {
			continue
		}

		_, err = io.ReadFull(d.Stream, header[2:])
		if err != nil {
			return nil, err
		}

		pduLen := int(binary.BigEndian.Uint16(header[2:4]))
		if pduLen > maxPDUSize {
			d.logger().Debug("Skipping oversized PDU", "length", pduLen)
			continue
		}

		data := make([]byte, pduLen)
		_, err = io.ReadFull(d.Stream, data)
		return data, err
	}
}

func (d *Driver) sendBytes(data []byte) error {
	if len(data) > maxPDUSize {
		return errors.New("packet too long")
	}

	header := []byte{0x94, 0xc3, 0, 0}
	binary.BigEndian.PutUint16(header[2:4], uint16(len(data)))

	_, err := d.Stream.Write(header)
	if err != nil {
		return err
	}

	_, err = d.Stream.Write(data)
	return err
}

func (d *Driver) logger() log.Logger {
	if d.Logger == nil {
		return log.NOOPLogger{}
	}
	return d.Logger
}
