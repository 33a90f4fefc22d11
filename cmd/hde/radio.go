package main

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/revdeluxe/HDE/internal/config"
	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/pkg/lora"
	"github.com/revdeluxe/HDE/pkg/lora/mqtt"
	"github.com/revdeluxe/HDE/pkg/lora/serial"
	"github.com/revdeluxe/HDE/pkg/lora/stub"
	"github.com/revdeluxe/HDE/pkg/lora/udp"
)

const mqttBuffer = 64

// radio is an opened driver plus what the node should attach to it.
type radio struct {
	driver lora.RadioDriver
	// uplink, when set, receives every frame the node decodes.
	uplink lora.FrameSubscriber
	close  func() error
}

func (r *radio) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// radioTarget is a parsed radio URL.
type radioTarget struct {
	scheme string
	// address is the serial port, the MQTT broker or the UDP group.
	address  string
	baudRate int
	iface    string
	username string
	password string
}

func parseRadioURL(raw string) (radioTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return radioTarget{}, fmt.Errorf("invalid radio url: %w", err)
	}

	t := radioTarget{scheme: u.Scheme}
	switch u.Scheme {
	case "stub":
	case "serial":
		t.address = u.Host + u.Path
		if t.address == "" {
			return radioTarget{}, errors.New("serial radio url needs a port, e.g. serial:///dev/ttyUSB0")
		}
		if baud := u.Query().Get("baud"); baud != "" {
			if t.baudRate, err = strconv.Atoi(baud); err != nil {
				return radioTarget{}, fmt.Errorf("invalid baud rate %q: %w", baud, err)
			}
		}
	case "mqtt", "mqtts":
		if u.Host == "" {
			return radioTarget{}, errors.New("mqtt radio url needs a broker host")
		}
		scheme := "tcp"
		if u.Scheme == "mqtts" {
			scheme = "ssl"
		}
		t.address = scheme + "://" + u.Host
		if u.User != nil {
			t.username = u.User.Username()
			t.password, _ = u.User.Password()
		}
	case "udp":
		t.address = u.Host
		if t.address == "" {
			t.address = udp.DefaultGroup
		}
		t.iface = u.Query().Get("iface")
	default:
		return radioTarget{}, fmt.Errorf("unsupported radio url scheme %q", u.Scheme)
	}
	return t, nil
}

// openRadio opens the driver selected by the radio url.
func openRadio(cfg *config.Config, logger log.Logger) (*radio, error) {
	t, err := parseRadioURL(cfg.Radio.URL)
	if err != nil {
		return nil, err
	}
	preset, ok := lora.PresetByName(cfg.Radio.Preset)
	if !ok {
		preset = lora.DefaultPreset
	}

	switch t.scheme {
	case "serial":
		d, err := serial.Open(t.address, t.baudRate)
		if err != nil {
			return nil, err
		}
		d.Logger = logger
		if err := d.Configure(preset); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to configure radio: %w", err)
		}
		logger.Info("Serial radio opened", "port", t.address, "preset", preset.Name)
		return &radio{driver: d, close: d.Close}, nil

	case "mqtt", "mqtts":
		d := mqtt.NewDriver(t.address, cfg.NodeID)
		d.Username = cmp.Or(t.username, cfg.MQTT.Username)
		d.Password = cmp.Or(t.password, cfg.MQTT.Password)
		d.RootTopic = cmp.Or(cfg.MQTT.RootTopic, mqtt.DefaultRootTopic)
		d.Logger = logger
		if err := d.Connect(); err != nil {
			return nil, err
		}
		if err := d.HandleMessages(mqttBuffer); err != nil {
			d.Disconnect()
			return nil, err
		}
		logger.Info("MQTT air connected", "broker", t.address, "root", d.RootTopic)
		return &radio{
			driver: d,
			uplink: &mqtt.Uplink{Driver: d},
			close: func() error {
				d.Disconnect()
				return nil
			},
		}, nil

	case "udp":
		d, err := udp.NewDriver(cfg.NodeID, t.address, t.iface)
		if err != nil {
			return nil, err
		}
		d.Logger = logger
		logger.Info("UDP air joined", "group", t.address)
		return &radio{driver: d, close: d.Close}, nil

	default:
		logger.Warn("Using an in-process stub radio, no other node can be reached")
		return &radio{driver: stub.NewEther().NewRadio(cfg.NodeID)}, nil
	}
}
