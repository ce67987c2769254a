package tape

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/marketfeed/rtcore/internal/schema"
)

// PumpTapeSliceSampleLines is PumpTapeSliceSample with each sampled
// message written to w as one line-protocol line, for exporting a
// replay slice to tooling that expects InfluxDB's wire grammar (e.g.
// a local Telegraf/InfluxDB ingest pipeline) instead of decoded
// Message values.
func (r *Reader) PumpTapeSliceSampleLines(tStart, tEnd, interval int64, fieldIDs []int, w io.Writer) error {
	return r.PumpTapeSliceSample(tStart, tEnd, interval, fieldIDs, func(msg Message) bool {
		line, err := EncodeSampleLine(msg)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return false
		}
		return true
	})
}

// EncodeSampleLine renders one subsampled tape message as an
// InfluxDB line-protocol line ("ticker,service=X field=val... ts"),
// the mirror image of DecodeLine in pkg/nats/influxDecoder.go, which
// decodes the same grammar on ingest. PumpTapeSliceSampleLines calls
// this once per emitted sample; PumpTapeSliceSample itself delivers
// raw Message values and does not call it.
func EncodeSampleLine(msg Message) ([]byte, error) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)

	enc.StartLine(msg.Ticker)
	enc.AddTag("service", msg.Service)

	for _, f := range msg.Fields {
		name := fieldName(f)
		val, ok := fieldLineValue(f)
		if !ok {
			continue
		}
		enc.AddField(name, val)
	}

	enc.EndLine(time.Unix(0, msg.TimestampNS))

	if err := enc.Err(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func fieldName(f schema.Field) string {
	return "f" + strconv.Itoa(f.ID)
}

func fieldLineValue(f schema.Field) (lineprotocol.Value, bool) {
	switch f.DeclaredType {
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64:
		v, err := f.AsInt64()
		if err != nil {
			return lineprotocol.Value{}, false
		}
		return lineprotocol.IntValue(v), true
	case schema.Float32, schema.Float64, schema.Real:
		v, err := f.AsFloat64()
		if err != nil {
			return lineprotocol.Value{}, false
		}
		return lineprotocol.FloatValue(v), true
	default:
		return lineprotocol.StringValue(f.AsString()), true
	}
}
