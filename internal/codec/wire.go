package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of EmbeddingCollection.
const (
	fieldEmbeddings   protowire.Number = 1
	fieldModelName    protowire.Number = 2
	fieldModelVersion protowire.Number = 3
	fieldDimension    protowire.Number = 4
)

// Field numbers of Embedding.
const (
	fieldValues    protowire.Number = 1
	fieldText      protowire.Number = 2
	fieldTimestamp protowire.Number = 3
)

// maxRecordBytes bounds a single embedding message; anything larger is
// treated as corruption rather than allocated.
const maxRecordBytes = 256 << 20

func checkHeader(h vector.Header) error {
	if h.Dimension < 0 || h.Dimension > math.MaxInt32 {
		return fmt.Errorf("%w: dimension %d out of range", ErrDimensionMismatch, h.Dimension)
	}
	return nil
}

func appendHeader(b []byte, h vector.Header) []byte {
	if h.ModelName != "" {
		b = protowire.AppendTag(b, fieldModelName, protowire.BytesType)
		b = protowire.AppendString(b, h.ModelName)
	}
	if h.ModelVersion != "" {
		b = protowire.AppendTag(b, fieldModelVersion, protowire.BytesType)
		b = protowire.AppendString(b, h.ModelVersion)
	}
	if h.Dimension != 0 {
		b = protowire.AppendTag(b, fieldDimension, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(int32(h.Dimension))))
	}
	return b
}

func recordSize(r vector.Record) int {
	n := 0
	if len(r.Values) > 0 {
		n += protowire.SizeTag(fieldValues) + protowire.SizeBytes(4*len(r.Values))
	}
	if r.Text != "" {
		n += protowire.SizeTag(fieldText) + protowire.SizeBytes(len(r.Text))
	}
	if r.Timestamp != 0 {
		n += protowire.SizeTag(fieldTimestamp) + protowire.SizeVarint(uint64(r.Timestamp))
	}
	return n
}

// appendRecord appends r as one embeddings field. Values are packed
// little-endian and contiguous.
func appendRecord(b []byte, r vector.Record) []byte {
	b = protowire.AppendTag(b, fieldEmbeddings, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(recordSize(r)))
	if len(r.Values) > 0 {
		b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(4*len(r.Values)))
		for _, v := range r.Values {
			b = protowire.AppendFixed32(b, math.Float32bits(v))
		}
	}
	if r.Text != "" {
		b = protowire.AppendTag(b, fieldText, protowire.BytesType)
		b = protowire.AppendString(b, r.Text)
	}
	if r.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Timestamp))
	}
	return b
}

// decodeRecord parses the payload of one embeddings field. Values stay nil
// until a values field is seen, matching the encoder which omits empty
// vectors.
func decodeRecord(b []byte) (vector.Record, error) {
	var r vector.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, parseErr("embedding tag", n)
		}
		b = b[n:]

		switch num {
		case fieldValues:
			switch typ {
			case protowire.BytesType:
				packed, m := protowire.ConsumeBytes(b)
				if m < 0 {
					return r, parseErr("packed values", m)
				}
				if len(packed)%4 != 0 {
					return r, malformed("packed values length %d is not a multiple of 4", len(packed))
				}
				if cap(r.Values)-len(r.Values) < len(packed)/4 {
					grown := make(vector.Vector, len(r.Values), len(r.Values)+len(packed)/4)
					copy(grown, r.Values)
					r.Values = grown
				}
				for i := 0; i < len(packed); i += 4 {
					r.Values = append(r.Values, math.Float32frombits(binary.LittleEndian.Uint32(packed[i:])))
				}
				n = m
			case protowire.Fixed32Type:
				v, m := protowire.ConsumeFixed32(b)
				if m < 0 {
					return r, parseErr("value", m)
				}
				r.Values = append(r.Values, math.Float32frombits(v))
				n = m
			default:
				return r, malformed("values field has wire type %d", typ)
			}
		case fieldText:
			if typ != protowire.BytesType {
				return r, malformed("text field has wire type %d", typ)
			}
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return r, parseErr("text", m)
			}
			if !utf8.Valid(v) {
				return r, malformed("text is not valid UTF-8")
			}
			r.Text = string(v)
			n = m
		case fieldTimestamp:
			if typ != protowire.VarintType {
				return r, malformed("timestamp field has wire type %d", typ)
			}
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return r, parseErr("timestamp", m)
			}
			r.Timestamp = int64(v)
			n = m
		default:
			if typ == protowire.StartGroupType || typ == protowire.EndGroupType {
				return r, malformed("group wire type in field %d", num)
			}
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return r, parseErr("unknown field", m)
			}
			n = m
		}
		b = b[n:]
	}
	return r, nil
}
