// Package xml implements the XML wire encoding of spec §4.5/§6.1:
// one <MSG> element per envelope, one <FLD> child per field. Like the
// ASCII market-feed codec, every field value ships as text and native
// typing is recovered from the channel's Schema on decode.
//
// encoding/xml is used directly rather than through a third-party
// XML library: no example repo in the reference corpus imports one,
// and the element shape here (flat attribute-bearing children, no
// namespaces or mixed content) is exactly what encoding/xml was built
// for.
package xml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
)

type wireMsg struct {
	XMLName  xml.Name  `xml:"MSG"`
	Type     string    `xml:"type,attr"`
	Service  string    `xml:"service,attr"`
	Ticker   string    `xml:"ticker,attr"`
	StreamID int64     `xml:"streamId,attr"`
	Tag      uint64    `xml:"tag,attr"`
	Packed   bool      `xml:"packed,attr"`
	Fields   []wireFld `xml:"FLD"`
}

type wireFld struct {
	ID    int    `xml:"id,attr"`
	Value string `xml:",chardata"`
}

var msgTypeNames = [...]string{
	"IMAGE", "UPDATE", "STATUS_DEAD", "STATUS_STALE", "STATUS_RECOVERING",
	"MOUNT", "PING", "CONTROL", "OPEN", "CLOSE", "QUERY", "INSERT_ACK",
	"GLOBAL_STATUS", "HISTORY", "DB_QUERY", "DB_TABLE", "STREAM_DONE",
	"PERM_QUERY", "BDS",
}

func msgTypeName(t wire.MsgType) (string, error) {
	if int(t) < len(msgTypeNames) {
		return msgTypeNames[t], nil
	}
	return "", fmt.Errorf("xml: unknown message type %d", t)
}

func parseMsgType(s string) (wire.MsgType, error) {
	for i, name := range msgTypeNames {
		if name == s {
			return wire.MsgType(i), nil
		}
	}
	return 0, fmt.Errorf("xml: unknown message type %q", s)
}

// Codec implements wire.Codec for the XML encoding.
type Codec struct{}

func New() *Codec { return &Codec{} }

func (c *Codec) Protocol() wire.Protocol { return wire.ProtoXML }

func (c *Codec) Encode(env wire.Envelope, _ *schema.Schema) ([]byte, error) {
	typeName, err := msgTypeName(env.Type)
	if err != nil {
		return nil, err
	}

	msg := wireMsg{
		Type:     typeName,
		Service:  env.Service,
		Ticker:   env.Ticker,
		StreamID: env.StreamID,
		Tag:      uint64(env.Tag),
		Packed:   env.Packed,
	}
	for _, f := range env.Fields {
		msg.Fields = append(msg.Fields, wireFld{ID: f.ID, Value: encodeValue(f)})
	}

	body, err := xml.Marshal(msg)
	if err != nil {
		return nil, err
	}
	// Each <MSG> is a self-terminating element; the newline gives
	// Decode an unambiguous boundary to scan for without needing a
	// streaming XML parser over a partially-received socket buffer.
	return append(body, '\n'), nil
}

func (c *Codec) Decode(p []byte, sch *schema.Schema) (wire.Envelope, int, error) {
	end := bytes.IndexByte(p, '\n')
	if end < 0 {
		return wire.Envelope{}, 0, wire.ErrShortMessage
	}

	var msg wireMsg
	if err := xml.Unmarshal(p[:end], &msg); err != nil {
		return wire.Envelope{}, 0, fmt.Errorf("%w: %v", wire.ErrMalformed, err)
	}

	msgType, err := parseMsgType(msg.Type)
	if err != nil {
		return wire.Envelope{}, 0, fmt.Errorf("%w: %v", wire.ErrMalformed, err)
	}

	env := wire.Envelope{
		Protocol: wire.ProtoXML,
		Type:     msgType,
		Service:  msg.Service,
		Ticker:   msg.Ticker,
		StreamID: msg.StreamID,
		Tag:      uintptr(msg.Tag),
		Packed:   msg.Packed,
	}
	for _, fld := range msg.Fields {
		env.Fields = append(env.Fields, decodeValue(fld.ID, strings.TrimSpace(fld.Value), sch))
	}
	return env, end + 1, nil
}

func encodeValue(f schema.Field) string {
	switch f.DeclaredType {
	case schema.Date:
		d, _ := f.AsDate()
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	case schema.Time:
		t, _ := f.AsTime()
		return fmt.Sprintf("%02d:%02d:%02d.%03d", t.Hour, t.Minute, t.Second, t.Millis)
	case schema.TimeSeconds:
		t, _ := f.AsTime()
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	case schema.Real:
		r, _ := f.AsReal()
		return strconv.FormatFloat(r.Float64(), 'f', -1, 64)
	case schema.Vector:
		vals, _ := f.AsVector()
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	default:
		return f.AsString()
	}
}

func decodeValue(id int, val string, sch *schema.Schema) schema.Field {
	if sch == nil {
		return schema.NewUndefined(id, schema.String, []byte(val))
	}
	ty := sch.DeclaredType(id)
	switch ty {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return schema.NewUndefined(id, schema.String, []byte(val))
		}
		return schema.NewInt(id, ty, n)
	case schema.Float32, schema.Float64:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return schema.NewUndefined(id, schema.String, []byte(val))
		}
		return schema.NewFloat(id, ty, n)
	case schema.UnixTime:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return schema.NewUndefined(id, schema.String, []byte(val))
		}
		return schema.NewUnixTime(id, n)
	case schema.Date:
		var y, m, d int
		if _, err := fmt.Sscanf(val, "%04d-%02d-%02d", &y, &m, &d); err != nil {
			return schema.NewUndefined(id, schema.String, []byte(val))
		}
		return schema.NewDate(id, schema.DateValue{Year: int16(y), Month: uint8(m), Day: uint8(d)})
	case schema.Time, schema.TimeSeconds:
		var h, mi, se, ms int
		if _, err := fmt.Sscanf(val, "%02d:%02d:%02d.%03d", &h, &mi, &se, &ms); err != nil {
			if _, err2 := fmt.Sscanf(val, "%02d:%02d:%02d", &h, &mi, &se); err2 != nil {
				return schema.NewUndefined(id, schema.String, []byte(val))
			}
		}
		return schema.NewTime(id, schema.TimeOfDay{Hour: h, Minute: mi, Second: se, Millis: ms}, ty == schema.TimeSeconds)
	case schema.Real:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return schema.NewUndefined(id, schema.String, []byte(val))
		}
		return schema.NewReal(id, schema.RealValue{Mantissa: int64(n * 100), Exponent: -2})
	case schema.ByteStreamRef:
		return schema.NewByteStreamRef(id, []byte(val))
	case schema.Vector:
		if val == "" {
			return schema.NewVector(id, nil, 0)
		}
		toks := strings.Split(val, ",")
		vals := make([]float64, 0, len(toks))
		for _, tok := range toks {
			n, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return schema.NewUndefined(id, schema.String, []byte(val))
			}
			vals = append(vals, n)
		}
		return schema.NewVector(id, vals, 0)
	case schema.String:
		return schema.NewString(id, val)
	default:
		return schema.NewUndefined(id, schema.String, []byte(val))
	}
}
