package main

import "encoding/binary"

// Wire opcodes. Every frame starts with the opcode byte followed by a flags
// byte; flags bits 0-6 carry the client's request id (0-127), bit 7 carries
// an opcode-specific boolean (only TIME uses it, as the passive bit).
const (
	opAuth         = 0x00
	opTime         = 0x01
	opState        = 0x02
	opURL          = 0x03
	opSyncReq      = 0x04
	opInit         = 0x05
	opAck          = 0x06
	opUptodate     = 0x07
	opSubtitleFlag = 0x08
)

const (
	ackFail    = 0
	ackSuccess = 1

	flagRequestID = 0x7F
	flagPassive   = 0x80
)

// Message is a decoded inbound frame, one concrete type per opcode.
type Message interface {
	isMessage()
}

type AuthMsg struct {
	RequestID uint8
	Token     string
}

type TimeMsg struct {
	RequestID uint8
	Passive   bool
	Position  uint32
}

type StateMsg struct {
	RequestID uint8
	Playing   bool
	Position  uint32
}

type URLMsg struct {
	RequestID uint8
	URL       string
}

type SyncReqMsg struct {
	RequestID uint8
}

type UptodateMsg struct {
	RequestID uint8
}

func (AuthMsg) isMessage()     {}
func (TimeMsg) isMessage()     {}
func (StateMsg) isMessage()    {}
func (URLMsg) isMessage()      {}
func (SyncReqMsg) isMessage()  {}
func (UptodateMsg) isMessage() {}

// Decode parses a binary frame. It returns nil for anything malformed:
// unknown opcode, frame shorter than the opcode's minimum length, or a
// declared length that overruns the buffer. Callers drop nil results and
// keep the connection open.
func Decode(data []byte) Message {
	if len(data) < 2 {
		return nil
	}
	opcode := data[0]
	requestID := data[1] & flagRequestID
	passive := data[1]&flagPassive != 0

	switch opcode {
	case opAuth:
		if len(data) < 4 {
			return nil
		}
		tokenLen := int(binary.BigEndian.Uint16(data[2:4]))
		if len(data) < 4+tokenLen {
			return nil
		}
		return AuthMsg{RequestID: requestID, Token: string(data[4 : 4+tokenLen])}

	case opTime:
		if len(data) < 6 {
			return nil
		}
		return TimeMsg{
			RequestID: requestID,
			Passive:   passive,
			Position:  binary.BigEndian.Uint32(data[2:6]),
		}

	case opState:
		if len(data) < 7 {
			return nil
		}
		return StateMsg{
			RequestID: requestID,
			Playing:   data[2] == 1,
			Position:  binary.BigEndian.Uint32(data[3:7]),
		}

	case opURL:
		if len(data) < 4 {
			return nil
		}
		urlLen := int(binary.BigEndian.Uint16(data[2:4]))
		if len(data) < 4+urlLen {
			return nil
		}
		return URLMsg{RequestID: requestID, URL: string(data[4 : 4+urlLen])}

	case opSyncReq:
		return SyncReqMsg{RequestID: requestID}

	case opUptodate:
		return UptodateMsg{RequestID: requestID}

	default:
		return nil
	}
}

func flagsByte(requestID uint8, passive bool) byte {
	b := requestID & flagRequestID
	if passive {
		b |= flagPassive
	}
	return b
}

// EncodeAuth builds the handshake frame carrying a bearer token. The server
// never sends it; it is here for clients and tests.
func EncodeAuth(token string, requestID uint8) []byte {
	buf := make([]byte, 4+len(token))
	buf[0] = opAuth
	buf[1] = flagsByte(requestID, false)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(token)))
	copy(buf[4:], token)
	return buf
}

func EncodeTime(position uint32, requestID uint8, passive bool) []byte {
	buf := make([]byte, 6)
	buf[0] = opTime
	buf[1] = flagsByte(requestID, passive)
	binary.BigEndian.PutUint32(buf[2:6], position)
	return buf
}

func EncodeState(playing bool, position uint32, requestID uint8) []byte {
	buf := make([]byte, 7)
	buf[0] = opState
	buf[1] = flagsByte(requestID, false)
	if playing {
		buf[2] = 1
	}
	binary.BigEndian.PutUint32(buf[3:7], position)
	return buf
}

func EncodeURL(url string, requestID uint8) []byte {
	buf := make([]byte, 4+len(url))
	buf[0] = opURL
	buf[1] = flagsByte(requestID, false)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(url)))
	copy(buf[4:], url)
	return buf
}

func EncodeSyncReq(requestID uint8) []byte {
	return []byte{opSyncReq, flagsByte(requestID, false)}
}

func EncodeUptodate(requestID uint8) []byte {
	return []byte{opUptodate, flagsByte(requestID, false)}
}

// EncodeInit carries the full playback snapshot sent on join and SYNC_REQ.
func EncodeInit(state PlaybackState, requestID uint8) []byte {
	buf := make([]byte, 10+len(state.URL))
	buf[0] = opInit
	buf[1] = flagsByte(requestID, false)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(state.URL)))
	copy(buf[4:], state.URL)
	off := 4 + len(state.URL)
	binary.BigEndian.PutUint32(buf[off:off+4], state.Position)
	if state.Playing {
		buf[off+4] = 1
	}
	if state.SubtitleExists {
		buf[off+5] = 1
	}
	return buf
}

// EncodeAck builds a success or failure acknowledgement. A failure carries a
// short reason truncated to 255 bytes.
func EncodeAck(success bool, requestID uint8, reason string) []byte {
	if !success && reason != "" {
		if len(reason) > 255 {
			reason = reason[:255]
		}
		buf := make([]byte, 4+len(reason))
		buf[0] = opAck
		buf[1] = flagsByte(requestID, false)
		buf[2] = ackFail
		buf[3] = uint8(len(reason))
		copy(buf[4:], reason)
		return buf
	}
	status := byte(ackFail)
	if success {
		status = ackSuccess
	}
	return []byte{opAck, flagsByte(requestID, false), status}
}

func EncodeSubtitleFlag(exists bool, requestID uint8) []byte {
	var b byte
	if exists {
		b = 1
	}
	return []byte{opSubtitleFlag, flagsByte(requestID, false), b}
}
