// Package mf implements the ASCII "market-feed" wire encoding of spec
// §4.5/§6.1: every field ships as a string token regardless of its
// declared native type, framed with field/value/record separator
// bytes rather than length prefixes. Native typing is recovered on
// decode by consulting the channel's Schema, mirroring how the
// binary and XML codecs share one Envelope but disagree on what
// "wire type" means.
package mf

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/marketfeed/rtcore/internal/schema"
	"github.com/marketfeed/rtcore/internal/wire"
)

const (
	vs byte = 0x1F // separates subfields within the header and within "fid=value"
	fs byte = 0x1C // separates header from fields, and fields from each other
	rs byte = 0x1E // terminates one complete message
)

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
	return "", fmt.Errorf("mf: unknown message type %d", t)
}

func parseMsgType(s string) (wire.MsgType, error) {
	for i, name := range msgTypeNames {
		if name == s {
			return wire.MsgType(i), nil
		}
	}
	return 0, fmt.Errorf("mf: unknown message type %q", s)
}

// Codec implements wire.Codec for the ASCII market-feed encoding.
type Codec struct{}

func New() *Codec { return &Codec{} }

func (c *Codec) Protocol() wire.Protocol { return wire.ProtoMF }

func (c *Codec) Encode(env wire.Envelope, _ *schema.Schema) ([]byte, error) {
	typeName, err := msgTypeName(env.Type)
	if err != nil {
		return nil, err
	}

	packed := "0"
	if env.Packed {
		packed = "1"
	}

	var out bytes.Buffer
	out.WriteString(typeName)
	out.WriteByte(vs)
	out.WriteString(env.Service)
	out.WriteByte(vs)
	out.WriteString(env.Ticker)
	out.WriteByte(vs)
	out.WriteString(strconv.FormatInt(env.StreamID, 10))
	out.WriteByte(vs)
	out.WriteString(strconv.FormatUint(uint64(env.Tag), 10))
	out.WriteByte(vs)
	out.WriteString(packed)

	for _, f := range env.Fields {
		out.WriteByte(fs)
		out.WriteString(strconv.Itoa(f.ID))
		out.WriteByte(vs)
		out.WriteString(encodeValue(f))
	}
	out.WriteByte(rs)
	return out.Bytes(), nil
}

func (c *Codec) Decode(p []byte, sch *schema.Schema) (wire.Envelope, int, error) {
	end := bytes.IndexByte(p, rs)
	if end < 0 {
		return wire.Envelope{}, 0, wire.ErrShortMessage
	}
	msg := p[:end]

	parts := bytes.Split(msg, []byte{fs})
	if len(parts) == 0 {
		return wire.Envelope{}, 0, wire.ErrMalformed
	}

	header := bytes.Split(parts[0], []byte{vs})
	if len(header) != 6 {
		return wire.Envelope{}, 0, fmt.Errorf("%w: bad mf header %q", wire.ErrMalformed, parts[0])
	}
	msgType, err := parseMsgType(string(header[0]))
	if err != nil {
		return wire.Envelope{}, 0, fmt.Errorf("%w: %v", wire.ErrMalformed, err)
	}
	streamID, err := strconv.ParseInt(string(header[3]), 10, 64)
	if err != nil {
		return wire.Envelope{}, 0, fmt.Errorf("%w: bad stream id: %v", wire.ErrMalformed, err)
	}
	tagU, err := strconv.ParseUint(string(header[4]), 10, 64)
	if err != nil {
		return wire.Envelope{}, 0, fmt.Errorf("%w: bad tag: %v", wire.ErrMalformed, err)
	}

	env := wire.Envelope{
		Protocol: wire.ProtoMF,
		Type:     msgType,
		Service:  string(header[1]),
		Ticker:   string(header[2]),
		StreamID: streamID,
		Tag:      uintptr(tagU),
		Packed:   string(header[5]) == "1",
	}

	for _, raw := range parts[1:] {
		kv := bytes.SplitN(raw, []byte{vs}, 2)
		if len(kv) != 2 {
			return wire.Envelope{}, 0, fmt.Errorf("%w: bad field token %q", wire.ErrMalformed, raw)
		}
		id, err := strconv.Atoi(string(kv[0]))
		if err != nil {
			return wire.Envelope{}, 0, fmt.Errorf("%w: bad field id: %v", wire.ErrMalformed, err)
		}
		env.Fields = append(env.Fields, decodeValue(id, string(kv[1]), sch))
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

// decodeValue coerces a wire string into a native Field using the
// schema's declared type, falling back to Undefined/String when the
// schema has no entry for id, per spec §3.1/§3.2.
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
