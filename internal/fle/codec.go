package fle

import (
	"encoding/binary"
	"fmt"
)

// CurrentVersion is the wire format version this codec writes.
const CurrentVersion uint32 = 0x1

const (
	modernMessageLen = 40
	legacyMessageLen = 28
)

// EncodeToSend packs a ToSend into its wire representation (§4.1): a
// 40-byte big-endian record of state ordinal, leader sid, zxid, election
// epoch, peer epoch, and format version.
//
// A fixed byte-offset record is not what any serialization library in the
// example corpus produces — protobuf, gob, and friends all carry their own
// framing — so this is hand-rolled over encoding/binary to hit the exact
// layout the wire format mandates.
func EncodeToSend(msg ToSend) []byte {
	buf := make([]byte, modernMessageLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msg.State))
	binary.BigEndian.PutUint64(buf[4:12], uint64(msg.Leader))
	binary.BigEndian.PutUint64(buf[12:20], uint64(msg.Zxid))
	binary.BigEndian.PutUint64(buf[20:28], uint64(msg.ElectionEpoch))
	binary.BigEndian.PutUint64(buf[28:36], uint64(msg.PeerEpoch))
	binary.BigEndian.PutUint32(buf[36:40], msg.Version)
	return buf
}

// DecodeNotification unpacks raw into the Vote portion of a Notification;
// the caller (the Messenger, which knows which connection the bytes arrived
// on) fills in Sid. It accepts both the modern 40-byte record and the
// legacy 28-byte record that predates peerEpoch/version, synthesizing
// PeerEpoch and Version for the latter per §4.1.
func DecodeNotification(raw []byte) (Vote, error) {
	switch {
	case len(raw) >= modernMessageLen:
		return decodeModern(raw)
	case len(raw) >= legacyMessageLen:
		return decodeLegacy(raw)
	default:
		return Vote{}, fmt.Errorf("fle: notification too short: %d bytes (need at least %d)", len(raw), legacyMessageLen)
	}
}

func decodeModern(raw []byte) (Vote, error) {
	state, ok := stateFromOrdinal(binary.BigEndian.Uint32(raw[0:4]))
	if !ok {
		return Vote{}, fmt.Errorf("fle: unknown state ordinal %d", binary.BigEndian.Uint32(raw[0:4]))
	}
	return Vote{
		State:         state,
		Leader:        PeerID(binary.BigEndian.Uint64(raw[4:12])),
		Zxid:          Zxid(binary.BigEndian.Uint64(raw[12:20])),
		ElectionEpoch: Epoch(binary.BigEndian.Uint64(raw[20:28])),
		PeerEpoch:     Epoch(binary.BigEndian.Uint64(raw[28:36])),
		Version:       binary.BigEndian.Uint32(raw[36:40]),
	}, nil
}

func decodeLegacy(raw []byte) (Vote, error) {
	state, ok := stateFromOrdinal(binary.BigEndian.Uint32(raw[0:4]))
	if !ok {
		return Vote{}, fmt.Errorf("fle: unknown state ordinal %d", binary.BigEndian.Uint32(raw[0:4]))
	}
	zxid := Zxid(binary.BigEndian.Uint64(raw[12:20]))
	return Vote{
		State:         state,
		Leader:        PeerID(binary.BigEndian.Uint64(raw[4:12])),
		Zxid:          zxid,
		ElectionEpoch: Epoch(binary.BigEndian.Uint64(raw[20:28])),
		PeerEpoch:     EpochOfZxid(zxid),
		Version:       0,
	}, nil
}
