// Package mqtt provides a RadioDriver whose air is an MQTT topic, so that several nodes can share a medium
// without radio hardware.
package mqtt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/pkg/lora"
)

const (
	DefaultRootTopic = "hde"
	airTopic         = "air"
	publishTimeout   = 5 * time.Second
)

var _ lora.RadioDriver = &Driver{}

// Driver is a RadioDriver over an MQTT broker. Every transmission is published to the air topic and every
// other node subscribed to it receives the payload. Payloads published by this node are ignored.
type Driver struct {
	// BrokerURL is the URL of the MQTT broker to connect to.
	BrokerURL string
	// Username is the username for MQTT authentication.
	Username string
	// Password is the password for MQTT authentication.
	Password string
	// AppName is used in the MQTT client ID.
	AppName string
	// RootTopic is the base topic for all messages.
	RootTopic string
	// NodeID tags published payloads so the driver can drop its own echo.
	NodeID string
	// Quality is reported for every received payload; the broker has no signal metrics.
	Quality lora.LinkQuality
	Logger  log.Logger

	client     mqtt.Client
	messagesCh chan []byte

	mu      sync.Mutex
	mode    lora.Mode
	pending []byte
	current []byte
	txDone  bool
}

// NewDriver creates a driver for node id. Connect and HandleMessages must be called before use.
func NewDriver(brokerURL, nodeID string) *Driver {
	return &Driver{
		BrokerURL: brokerURL,
		AppName:   "hde",
		RootTopic: DefaultRootTopic,
		NodeID:    nodeID,
		Quality:   lora.LinkQuality{RSSI: -40, SNR: 10},
		Logger:    log.NOOPLogger{},
	}
}

// Connect establishes an MQTT connection to the broker with a random client ID.
func (d *Driver) Connect() error {
	if d.client != nil && d.client.IsConnected() {
		return nil
	}

	randomId := make([]byte, 4)
	_, _ = rand.Read(randomId)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.BrokerURL)
	opts.SetUsername(d.Username)
	opts.SetPassword(d.Password)
	opts.SetClientID(fmt.Sprintf("%s-%s-%x", d.AppName, d.NodeID, randomId))
	opts.SetOrderMatters(true)

	d.client = mqtt.NewClient(opts)

	token := d.client.Connect()
	<-token.Done()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect MQTT: %w", err)
	}

	return nil
}

// HandleMessages subscribes to the air topic, buffering up to buffer received payloads.
func (d *Driver) HandleMessages(buffer int) error {
	if d.client == nil || !d.client.IsConnected() {
		return ErrNotConnected
	}

	d.messagesCh = make(chan []byte, buffer)

	token := d.client.Subscribe(d.topic(), 1, d.handleMessage)
	<-token.Done()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	return nil
}

// Disconnect closes the MQTT connection.
func (d *Driver) Disconnect() {
	if d.client != nil && d.client.IsConnected() {
		d.client.Disconnect(1000)
	}
}

func (d *Driver) handleMessage(_ mqtt.Client, message mqtt.Message) {
	from, payload, err := decodeAir(message.Payload())
	if err != nil {
		d.logger().Debug("Dropping air message", "topic", message.Topic(), "error", err)
		return
	}
	if from == d.NodeID {
		return
	}
	select {
	case d.messagesCh <- payload:
	default:
		d.logger().Warn("Air buffer is full, dropping payload", "from", from)
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

	if err := d.publish(payload); err != nil {
		return err
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
		case payload := <-d.messagesCh:
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

func (d *Driver) publish(payload []byte) error {
	if d.client == nil || !d.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := encodeAir(d.NodeID, payload)
	if err != nil {
		return err
	}
	token := d.client.Publish(d.topic(), 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timed out")
	}
	return token.Error()
}

func (d *Driver) topic() string {
	return d.RootTopic + "/" + airTopic
}

func (d *Driver) logger() log.Logger {
	if d.Logger == nil {
		return log.NOOPLogger{}
	}
	return d.Logger
}

// encodeAir prefixes payload with the sending node: [len][node][payload].
func encodeAir(node string, payload []byte) ([]byte, error) {
	if len(node) > 0xff {
		return nil, fmt.Errorf("node id of %d bytes: %w", len(node), lora.ErrFieldTooLong)
	}
	data := make([]byte, 0, 1+len(node)+len(payload))
	data = append(data, byte(len(node)))
	data = append(data, node...)
	return append(data, payload...), nil
}

func decodeAir(data []byte) (string, []byte, error) {
	if len(data) == 0 || len(data) < 1+int(data[0]) {
		return "", nil, ErrInvalidAirPayload
	}
	n := int(data[0])
	return string(data[1 : 1+n]), append([]byte(nil), data[1+n:]...), nil
}
