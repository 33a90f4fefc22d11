package lora

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestControlRoundTrip(t *testing.T) {
	tests := []Control{
		&HandshakeReq{From: "alice", Timestamp: 1700000000},
		&HandshakeAck{From: "bob", AckFor: "alice", Timestamp: 1700000001},
		&Checksum{From: "alice", CRC: 0xdeadbeef, Count: 12, Timestamp: 1700000002},
		&Checksum{From: "alice", CRC: 0xdeadbeef, Count: 12, Open: true, Timestamp: 1700000003},
		&AckOk{From: "bob", CRC: 0xdeadbeef},
		&AckOk{From: "bob", AckFor: "alice-42"},
		&Chunk{From: "alice", BatchID: 0xffffffff, Index: 2, Total: 3, Data: []byte{0, '[', 0xff}},
		&UserMessage{From: "alice", ID: "alice-1", Sender: "alice", Text: "zażółć gęślą jaźń", Timestamp: 1},
	}

	for _, want := range tests {
		t.Run(want.Type().String(), func(t *testing.T) {
			data, err := MarshalControl(want)
			if err != nil {
				t.Fatalf("MarshalControl() error = %v", err)
			}
			if size := want.toEnvelope().SizeVT(); size != len(data) {
				t.Errorf("SizeVT() = %d, marshalled %d bytes", size, len(data))
			}

			got, err := UnmarshalControl(data)
			if err != nil {
				t.Fatalf("UnmarshalControl() error = %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("UnmarshalControl() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalControlErrors(t *testing.T) {
	var wideType []byte
	wideType = protowire.AppendTag(wideType, 1, protowire.VarintType)
	wideType = protowire.AppendVarint(wideType, 0x104)

	var unknownType []byte
	unknownType = protowire.AppendTag(unknownType, 1, protowire.VarintType)
	unknownType = protowire.AppendVarint(unknownType, 42)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty body", data: nil, want: ErrUnknownControl},
		{name: "unknown type", data: unknownType, want: ErrUnknownControl},
		{name: "type wider than a byte", data: wideType, want: ErrUnknownControl},
		{name: "type sent as bytes", data: []byte{0x0a, 0x01, 'x'}, want: ErrInvalidControl},
		{name: "sender sent as varint", data: []byte{0x10, 0x01}, want: ErrInvalidControl},
		{name: "truncated varint", data: []byte{0x08, 0x80}, want: ErrInvalidControl},
		{name: "string past end", data: []byte{0x12, 0x05, 'a'}, want: ErrInvalidControl},
		{name: "plain text", data: []byte("CRC_REQUEST"), want: ErrInvalidControl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalControl(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("UnmarshalControl() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnmarshalControlSkipsUnknownFields(t *testing.T) {
	data, err := MarshalControl(&HandshakeReq{From: "carol"})
	if err != nil {
		t.Fatalf("MarshalControl() error = %v", err)
	}
	data = protowire.AppendTag(data, 20, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))

	got, err := UnmarshalControl(data)
	if err != nil {
		t.Fatalf("UnmarshalControl() error = %v", err)
	}
	if diff := cmp.Diff(Control(&HandshakeReq{From: "carol"}), got); diff != "" {
		t.Errorf("UnmarshalControl() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsCRCRequest(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want bool
	}{
		{name: "request", raw: []byte("CRC_REQUEST"), want: true},
		{name: "prefix", raw: []byte("CRC_REQ"), want: false},
		{name: "lowercase", raw: []byte("crc_request"), want: false},
		{name: "framed chunk", raw: append([]byte{0}, "CRC_REQUEST"...), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Reception{Seq: tt.raw[0], Payload: tt.raw[1:], Raw: tt.raw}
			if got := IsCRCRequest(rec); got != tt.want {
				t.Errorf("IsCRCRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeControlFitsMTU(t *testing.T) {
	msg := &UserMessage{From: "alice", ID: "alice-0f1e2d3c", Sender: "alice", Text: "meet at the north gate at dawn"}
	for _, mtu := range []int{MinMTU, 16, DefaultMTU} {
		chunks, err := EncodeControl("alice", msg, mtu, time.Unix(1000, 0))
		if err != nil {
			t.Fatalf("mtu %d: EncodeControl() error = %v", mtu, err)
		}

		var recs []Reception
		for _, c := range chunks {
			if len(c) > mtu+1 {
				t.Fatalf("mtu %d: chunk of %d bytes", mtu, len(c))
			}
			recs = append(recs, Reception{Seq: c[0], Payload: c[1:], Raw: c})
		}

		a := NewFrameAssembler(time.Minute)
		var data []byte
		for _, rec := range recs {
			data, _ = a.Push(rec, time.Unix(1000, 0))
		}
		frame, got, err := DecodeControl(data)
		if err != nil {
			t.Fatalf("mtu %d: DecodeControl() error = %v", mtu, err)
		}
		if frame.Sender != "alice" || frame.Timestamp != 1000 {
			t.Errorf("mtu %d: frame = {%q, %d}, want {alice, 1000}", mtu, frame.Sender, frame.Timestamp)
		}
		if diff := cmp.Diff(Control(msg), got); diff != "" {
			t.Errorf("mtu %d: DecodeControl() mismatch (-want +got):\n%s", mtu, diff)
		}
	}
}
