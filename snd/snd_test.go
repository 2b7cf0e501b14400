package snd

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
)

func createRTPPacket(seq uint16, ts uint32, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           12345,
		},
		Payload: payload,
	}
}

func TestOggEncoderWritesHeaders(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewOggEncoder(&buf)
	if err != nil {
		t.Fatalf("NewOggEncoder: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("OggS")) {
		t.Fatalf("stream does not start with an Ogg page")
	}
	if !bytes.Contains(buf.Bytes(), []byte("OpusHead")) {
		t.Error("missing OpusHead header")
	}

	before := buf.Len()
	if err := enc.WriteRTP(createRTPPacket(1, 960, []byte{0xfc, 0xff, 0xfe})); err != nil {
		t.Fatalf("WriteRTP: %v", err)
	}
	if buf.Len() <= before {
		t.Error("WriteRTP did not write a page")
	}
}
