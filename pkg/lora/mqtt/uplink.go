package mqtt

import (
	"encoding/json"
	"time"

	"github.com/revdeluxe/HDE/pkg/lora"
)

// Uplink is a FrameSubscriber forwarding user messages received over LoRa to the messages topic as JSON.
type Uplink struct {
	Driver *Driver
}

var _ lora.FrameSubscriber = &Uplink{}

type uplinkMessage struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Text       string    `json:"text"`
	Timestamp  int64     `json:"timestamp"`
	Origin     string    `json:"origin"`
	ReceivedAt time.Time `json:"received_at"`
}

func (u *Uplink) OnFrame(frame lora.Frame, msg lora.Control) {
	topic, data, ok := uplinkPayload(u.Driver.RootTopic, frame, msg, time.Now())
	if !ok {
		return
	}
	d := u.Driver
	if d.client == nil || !d.client.IsConnected() {
		d.logger().Debug("Uplink skipped", "error", ErrNotConnected)
		return
	}
	token := d.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		d.logger().Warn("Cannot publish uplink message", "topic", topic, "error", token.Error())
	}
}

func uplinkPayload(root string, frame lora.Frame, msg lora.Control, now time.Time) (string, []byte, bool) {
	um, ok := msg.(*lora.UserMessage)
	if !ok {
		return "", nil, false
	}
	data, err := json.Marshal(uplinkMessage{
		ID:         um.ID,
		Sender:     um.Sender,
		Text:       um.Text,
		Timestamp:  um.Timestamp,
		Origin:     frame.Sender,
		ReceivedAt: now.UTC(),
	})
	if err != nil {
		return "", nil, false
	}
	return root + "/messages/" + frame.Sender, data, true
}
