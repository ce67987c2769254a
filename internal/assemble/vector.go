package assemble

import "github.com/marketfeed/rtcore/internal/schema"

// Vector extracts the vector value of one field from a record's
// fields, resolving the display precision carried alongside it.
// Thin by design: unlike ByteStream and Chain, a vector field is
// already self-contained on the wire (spec §3.9), so there is no
// cross-message state to stage.
func Vector(fields []schema.Field, fid int) (values []float64, precision int, ok bool) {
	for _, f := range fields {
		if f.ID == fid && f.DeclaredType == schema.Vector {
			v, p := f.AsVector()
			return v, p, true
		}
	}
	return nil, 0, false
}

// TimedVector extracts the timed-vector value of one field.
func TimedVector(fields []schema.Field, fid int) (schema.TimedVectorValue, bool) {
	for _, f := range fields {
		if f.ID == fid && f.DeclaredType == schema.TimedVector {
			return f.AsTimedVector(), true
		}
	}
	return schema.TimedVectorValue{}, false
}
