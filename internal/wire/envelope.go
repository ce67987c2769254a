// Package wire defines the message envelope shared by the three
// interchangeable wire encodings (binary, ASCII market-feed, XML) and
// the Codec interface each one implements, per spec §3.5/§4.5/§6.1.
package wire

import (
	"errors"

	"github.com/marketfeed/rtcore/internal/schema"
)

// Protocol identifies which wire encoding a session has negotiated.
// A session negotiates exactly one protocol and uses it for the rest
// of that session, per spec §4.5.
type Protocol uint8

const (
	ProtoBinary Protocol = iota
	ProtoMF
	ProtoXML
)

func (p Protocol) String() string {
	switch p {
	case ProtoBinary:
		return "BINARY"
	case ProtoMF:
		return "MF"
	case ProtoXML:
		return "XML"
	default:
		return "UNKNOWN"
	}
}

// MsgType enumerates every message type in the shared envelope, per spec §3.5.
type MsgType uint8

const (
	MsgImage MsgType = iota
	MsgUpdate
	MsgStatusDead
	MsgStatusStale
	MsgStatusRecovering
	MsgMount
	MsgPing
	MsgControl
	MsgOpen
	MsgClose
	MsgQuery
	MsgInsertAck
	MsgGlobalStatus
	MsgHistory
	MsgDBQuery
	MsgDBTable
	MsgStreamDone
	MsgPermQuery
	MsgBDS
)

func (t MsgType) String() string {
	names := [...]string{
		"IMAGE", "UPDATE", "STATUS_DEAD", "STATUS_STALE", "STATUS_RECOVERING",
		"MOUNT", "PING", "CONTROL", "OPEN", "CLOSE", "QUERY", "INSERT_ACK",
		"GLOBAL_STATUS", "HISTORY", "DB_QUERY", "DB_TABLE", "STREAM_DONE",
		"PERM_QUERY", "BDS",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}

// Envelope is the uniform message shape every codec decodes into and
// encodes from, per spec §3.5.
type Envelope struct {
	Protocol  Protocol
	Type      MsgType
	Service   string
	Ticker    string // optional
	StreamID  int64  // peer-assigned stream id, 0 until assigned
	Tag       uintptr // opaque application token, echoed back verbatim
	Fields    []schema.Field
	Packed    bool // binary-only: true if only changed fields are present
}

// ErrShortMessage is returned by Decode when fewer bytes are
// available than the envelope's declared length; the caller must
// retain the bytes and retry once more arrive, per spec §4.5.
var ErrShortMessage = errors.New("wire: short message, need more bytes")

// ErrMalformed is returned for a structurally invalid envelope; per
// spec §4.5/§7 this is fatal for the session, not merely skippable.
var ErrMalformed = errors.New("wire: malformed envelope")

// Codec is implemented by each of the three wire encodings. Decode
// returns the decoded envelope and the number of bytes consumed from
// p; on ErrShortMessage, 0 bytes are consumed and the caller should
// wait for more data.
type Codec interface {
	Protocol() Protocol
	Encode(env Envelope, schema *schema.Schema) ([]byte, error)
	Decode(p []byte, schema *schema.Schema) (Envelope, int, error)
}
