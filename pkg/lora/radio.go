package lora

// Mode is an operating mode of the radio chip.
type Mode byte

const (
	ModeSleep Mode = iota
	ModeStandby
	ModeTransmit
	ModeReceiveContinuous
	ModeReceiveSingle
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "sleep"
	case ModeStandby:
		return "standby"
	case ModeTransmit:
		return "tx"
	case ModeReceiveContinuous:
		return "rx-continuous"
	case ModeReceiveSingle:
		return "rx-single"
	default:
		return "unknown"
	}
}

// SignalFlags are the interrupt flags exposed by the radio.
type SignalFlags struct {
	DataReady bool
	TxDone    bool
	// Error is set when the radio received a payload that failed its own integrity check.
	Error bool
}

// LinkQuality describes the signal of the last received packet.
type LinkQuality struct {
	RSSI int     // dBm
	SNR  float64 // dB
}

// RadioDriver is the hardware collaborator owned by a Link. Implementations are not required to be safe for
// concurrent use; the Link serializes every call.
type RadioDriver interface {
	// SetMode switches the radio into the given operating mode.
	SetMode(mode Mode) error
	// WritePayload loads the transmit buffer. It is sent on the next switch to ModeTransmit.
	WritePayload(payload []byte) error
	// SignalFlags reads the interrupt flags.
	SignalFlags() (SignalFlags, error)
	// ClearSignalFlags resets every interrupt flag.
	ClearSignalFlags() error
	// ReadPayload returns the last received payload.
	ReadPayload() ([]byte, error)
	// LinkQuality returns signal metrics of the last received payload.
	LinkQuality() (LinkQuality, error)
}

// RadioPreset describes LoRa modulation settings.
type RadioPreset struct {
	Name            string
	FrequencyMHz    float64
	SpreadingFactor uint8
	BandwidthKHz    float64
	// CodingRate is the denominator of the 4/x coding rate.
	CodingRate uint8
	TxPowerDBm int8
}

var (
	PresetShortFast = RadioPreset{Name: "ShortFast", FrequencyMHz: 433, SpreadingFactor: 7, BandwidthKHz: 250, CodingRate: 5, TxPowerDBm: 15}
	PresetMedium    = RadioPreset{Name: "Medium", FrequencyMHz: 433, SpreadingFactor: 9, BandwidthKHz: 125, CodingRate: 5, TxPowerDBm: 15}
	PresetLongSlow  = RadioPreset{Name: "LongSlow", FrequencyMHz: 433, SpreadingFactor: 12, BandwidthKHz: 125, CodingRate: 5, TxPowerDBm: 15}
)

// DefaultPreset is used when no preset is configured.
var DefaultPreset = PresetLongSlow

// PresetByName looks up one of the predefined presets.
func PresetByName(name string) (RadioPreset, bool) {
	for _, p := range []RadioPreset{PresetShortFast, PresetMedium, PresetLongSlow} {
		if p.Name == name {
			return p, true
		}
	}
	return RadioPreset{}, false
}
