package table

import (
	"crashdb/file"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

/*
A tuple is a null bitmap followed by the non-null values in column order:

	| bitmap (ceil(n/8) bytes) | value | value | ... |

INTEGER is an int32, FLOAT a float64, VARCHAR and DECIMAL a length-prefixed string.
Bit i of the bitmap (byte i/8, mask 1<<(i%8)) is set when column i is NULL.
*/

// Encode lays out row according to schema. Each value must already have the Go type of its column:
// int, float64, string or decimal.Decimal, or nil for NULL.
func Encode(schema *Schema, row []any) ([]byte, error) {
	if len(row) != len(schema.Columns) {
		return nil, errors.Errorf("%s has %d columns, row has %d values", schema.Table, len(schema.Columns), len(row))
	}
	bitmapSize := (len(row) + 7) / 8
	size := bitmapSize
	for i, v := range row {
		if v == nil {
			continue
		}
		n, err := valueSize(schema.Columns[i], v)
		if err != nil {
			return nil, err
		}
		size += n
	}

	page := file.NewPage(size)
	bitmap := make([]byte, bitmapSize)
	pos := bitmapSize
	for i, v := range row {
		if v == nil {
			bitmap[i/8] |= 1 << (i % 8)
			continue
		}
		switch schema.Columns[i].Type {
		case Integer:
			page.SetInt(pos, v.(int))
			pos += file.IntSize
		case Float:
			page.SetFloat(pos, v.(float64))
			pos += file.LongSize
		case Varchar:
			if err := page.SetString(pos, v.(string)); err != nil {
				return nil, err
			}
			pos += file.IntSize + len(v.(string))
		case Decimal:
			s := v.(decimal.Decimal).String()
			if err := page.SetString(pos, s); err != nil {
				return nil, err
			}
			pos += file.IntSize + len(s)
		}
	}
	page.Put(0, bitmap)
	return page.Contents(), nil
}

func valueSize(c Column, v any) (int, error) {
	ok := false
	n := 0
	switch c.Type {
	case Integer:
		_, ok = v.(int)
		n = file.IntSize
	case Float:
		_, ok = v.(float64)
		n = file.LongSize
	case Varchar:
		var s string
		s, ok = v.(string)
		n = file.IntSize + len(s)
	case Decimal:
		var d decimal.Decimal
		d, ok = v.(decimal.Decimal)
		n = file.IntSize + len(d.String())
	}
	if !ok {
		return 0, errors.Errorf("column %s: cannot store %T as %s", c.Name, v, c.Type)
	}
	return n, nil
}

// Decode is the inverse of Encode.
func Decode(schema *Schema, b []byte) ([]any, error) {
	n := len(schema.Columns)
	bitmapSize := (n + 7) / 8
	if len(b) < bitmapSize {
		return nil, errors.Errorf("%s: tuple of %d bytes is shorter than its null bitmap", schema.Table, len(b))
	}
	page := file.NewPageFromBytes(b)
	row := make([]any, n)
	pos := bitmapSize
	need := func(k int) error {
		if k < 0 || pos+k > len(b) {
			return errors.Errorf("%s: tuple truncated at byte %d", schema.Table, pos)
		}
		return nil
	}
	for i, c := range schema.Columns {
		if b[i/8]&(1<<(i%8)) != 0 {
			continue
		}
		switch c.Type {
		case Integer:
			if err := need(file.IntSize); err != nil {
				return nil, err
			}
			row[i] = page.GetInt(pos)
			pos += file.IntSize
		case Float:
			if err := need(file.LongSize); err != nil {
				return nil, err
			}
			row[i] = page.GetFloat(pos)
			pos += file.LongSize
		case Varchar, Decimal:
			if err := need(file.IntSize); err != nil {
				return nil, err
			}
			if err := need(file.IntSize + page.GetInt(pos)); err != nil {
				return nil, err
			}
			s, err := page.GetString(pos)
			if err != nil {
				return nil, err
			}
			pos += file.IntSize + len(s)
			if c.Type == Varchar {
				row[i] = s
				continue
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, errors.Wrapf(err, "column %s", c.Name)
			}
			row[i] = d
		default:
			return nil, errors.Errorf("column %s has unknown type %s", c.Name, c.Type)
		}
	}
	return row, nil
}
