package schema

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// DecodeRows decodes a JSON array of row objects into raw field maps.
// Nested arrays and objects are skipped; neither layout uses them.
func DecodeRows(data []byte) ([]map[string]any, error) {
	rows := make([]map[string]any, 0)
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		row, err := decodeObject(d)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode rows")
	}
	return rows, nil
}

// DecodeObject decodes a single JSON object into a raw field map.
func DecodeObject(data []byte) (map[string]any, error) {
	row, err := decodeObject(jx.DecodeBytes(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode object")
	}
	return row, nil
}

func decodeObject(d *jx.Decoder) (map[string]any, error) {
	out := make(map[string]any)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := decodeScalar(d)
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		out[key] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeScalar(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		if n.IsInt() {
			return n.Int64()
		}
		return n.Float64()
	case jx.Bool:
		return d.Bool()
	case jx.Null:
		return nil, d.Null()
	default:
		return nil, d.Skip()
	}
}

// EncodeFields encodes a write payload as a single JSON object.
func EncodeFields(fields []Field) []byte {
	var e jx.Encoder
	e.ObjStart()
	for _, f := range fields {
		e.FieldStart(f.Column)
		encodeValue(&e, f.Value)
	}
	e.ObjEnd()
	return e.Bytes()
}

func encodeValue(e *jx.Encoder, v any) {
	switch x := v.(type) {
	case string:
		e.Str(x)
	case int64:
		e.Int64(x)
	case int:
		e.Int(x)
	case bool:
		e.Bool(x)
	case time.Time:
		e.Str(x.Format(time.RFC3339Nano))
	default:
		e.Null()
	}
}
