// Package colfile implements the columnar data file format referenced by
// table snapshots: a self-describing single file holding snappy-compressed
// column chunks and a JSON footer with the embedded schema and row count.
//
// Layout:
//
//	[magic "FLC1"]
//	[chunk 0] ... [chunk n-1]        one compressed chunk per column
//	[footer JSON]
//	[uint32 LE footer length]
//	[magic "FLC1"]
//
// Each chunk is snappy-compressed. The uncompressed payload is a one-byte
// null-presence flag, an optional null bitmap (one byte per row), then the
// column values little-endian: 4 bytes per int32, 8 bytes per int64, double
// and timestamp, 1 byte per bool, and uvarint-length-prefixed bytes per
// string. Null slots are encoded as zero values.
package colfile

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/golang/snappy"

	"github.com/floelabs/icefloe/pkg/dataset"
)

var magic = []byte("FLC1")

const formatVersion = 1

// ErrBadFormat is returned when a file does not parse as a column file.
var ErrBadFormat = errors.New("malformed column file")

// Footer is the self-describing trailer embedded in every column file.
type Footer struct {
	Version int             `json:"version"`
	Rows    int             `json:"rows"`
	Fields  []dataset.Field `json:"fields"`
	Chunks  []ChunkRef      `json:"chunks"`
}

// ChunkRef locates one column chunk within the file.
type ChunkRef struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// Encode serializes a dataset to the column file format.
func Encode(ds *dataset.Dataset) ([]byte, error) {
	out := append([]byte(nil), magic...)

	footer := Footer{
		Version: formatVersion,
		Rows:    ds.NumRows(),
		Fields:  ds.Schema(),
	}

	for i := 0; i < ds.NumCols(); i++ {
		raw, err := encodeColumn(ds.Column(i))
		if err != nil {
			return nil, err
		}
		chunk := snappy.Encode(nil, raw)
		footer.Chunks = append(footer.Chunks, ChunkRef{Offset: len(out), Length: len(chunk)})
		out = append(out, chunk...)
	}

	footerJSON, err := json.Marshal(footer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal footer: %w", err)
	}
	out = append(out, footerJSON...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(footerJSON)))
	out = append(out, magic...)
	return out, nil
}

// Decode parses a column file back into a dataset.
func Decode(data []byte) (*dataset.Dataset, error) {
	footer, err := DecodeFooter(data)
	if err != nil {
		return nil, err
	}

	cols := make([]dataset.Column, len(footer.Fields))
	for i, field := range footer.Fields {
		ref := footer.Chunks[i]
		if ref.Offset < len(magic) || ref.Offset+ref.Length > len(data) {
			return nil, fmt.Errorf("%w: chunk %d out of bounds", ErrBadFormat, i)
		}
		raw, err := snappy.Decode(nil, data[ref.Offset:ref.Offset+ref.Length])
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrBadFormat, i, err)
		}
		col, err := decodeColumn(field, footer.Rows, raw)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return dataset.New(cols...)
}

// DecodeFooter parses only the trailer of a column file. The registration
// path uses it to compare a file's physical schema against the destination
// table without materializing rows.
func DecodeFooter(data []byte) (*Footer, error) {
	trailer := len(magic) + 4
	if len(data) < 2*len(magic)+4 {
		return nil, fmt.Errorf("%w: too short", ErrBadFormat)
	}
	if string(data[:len(magic)]) != string(magic) || string(data[len(data)-len(magic):]) != string(magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFormat)
	}
	footerLen := int(binary.LittleEndian.Uint32(data[len(data)-trailer : len(data)-len(magic)]))
	footerEnd := len(data) - trailer
	if footerLen <= 0 || footerLen > footerEnd-len(magic) {
		return nil, fmt.Errorf("%w: bad footer length %d", ErrBadFormat, footerLen)
	}

	var footer Footer
	if err := json.Unmarshal(data[footerEnd-footerLen:footerEnd], &footer); err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrBadFormat, err)
	}
	if footer.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, footer.Version)
	}
	if len(footer.Chunks) != len(footer.Fields) {
		return nil, fmt.Errorf("%w: %d chunks for %d fields", ErrBadFormat, len(footer.Chunks), len(footer.Fields))
	}
	return &footer, nil
}

// WriteFile encodes a dataset and writes it to a local path.
func WriteFile(path string, ds *dataset.Dataset) error {
	data, err := Encode(ds)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write column file: %w", err)
	}
	return nil
}

// ReadFile reads and decodes a column file from a local path.
func ReadFile(path string) (*dataset.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read column file: %w", err)
	}
	return Decode(data)
}

func encodeColumn(col dataset.Column) ([]byte, error) {
	rows := col.Len()
	var buf []byte

	if col.HasNulls() {
		buf = append(buf, 1)
		for i := 0; i < rows; i++ {
			if col.Nulls[i] {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	} else {
		buf = append(buf, 0)
	}

	switch col.Field.Kind {
	case dataset.KindInt32:
		for _, v := range col.Int32s {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		}
	case dataset.KindInt64:
		for _, v := range col.Int64s {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	case dataset.KindFloat64:
		for _, v := range col.Float64s {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	case dataset.KindString:
		for _, v := range col.Strings {
			buf = binary.AppendUvarint(buf, uint64(len(v)))
			buf = append(buf, v...)
		}
	case dataset.KindBool:
		for _, v := range col.Bools {
			if v {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	case dataset.KindTimestamp:
		for _, v := range col.Times {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	default:
		return nil, fmt.Errorf("cannot encode column %q of kind %s", col.Field.Name, col.Field.Kind)
	}
	return buf, nil
}

func decodeColumn(field dataset.Field, rows int, raw []byte) (dataset.Column, error) {
	col := dataset.Column{Field: field}
	if len(raw) < 1 {
		return col, fmt.Errorf("%w: empty chunk for column %q", ErrBadFormat, field.Name)
	}
	hasNulls := raw[0] == 1
	raw = raw[1:]
	if hasNulls {
		if len(raw) < rows {
			return col, fmt.Errorf("%w: truncated null bitmap for column %q", ErrBadFormat, field.Name)
		}
		col.Nulls = make([]bool, rows)
		for i := 0; i < rows; i++ {
			col.Nulls[i] = raw[i] == 1
		}
		raw = raw[rows:]
	}

	need := func(n int) error {
		if len(raw) < n {
			return fmt.Errorf("%w: truncated values for column %q", ErrBadFormat, field.Name)
		}
		return nil
	}

	switch field.Kind {
	case dataset.KindInt32:
		if err := need(4 * rows); err != nil {
			return col, err
		}
		col.Int32s = make([]int32, rows)
		for i := 0; i < rows; i++ {
			col.Int32s[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case dataset.KindInt64:
		if err := need(8 * rows); err != nil {
			return col, err
		}
		col.Int64s = make([]int64, rows)
		for i := 0; i < rows; i++ {
			col.Int64s[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case dataset.KindFloat64:
		if err := need(8 * rows); err != nil {
			return col, err
		}
		col.Float64s = make([]float64, rows)
		for i := 0; i < rows; i++ {
			col.Float64s[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case dataset.KindString:
		col.Strings = make([]string, rows)
		for i := 0; i < rows; i++ {
			n, size := binary.Uvarint(raw)
			if size <= 0 || uint64(len(raw)-size) < n {
				return col, fmt.Errorf("%w: truncated string for column %q", ErrBadFormat, field.Name)
			}
			raw = raw[size:]
			col.Strings[i] = string(raw[:n])
			raw = raw[n:]
		}
	case dataset.KindBool:
		if err := need(rows); err != nil {
			return col, err
		}
		col.Bools = make([]bool, rows)
		for i := 0; i < rows; i++ {
			col.Bools[i] = raw[i] == 1
		}
	case dataset.KindTimestamp:
		if err := need(8 * rows); err != nil {
			return col, err
		}
		col.Times = make([]int64, rows)
		for i := 0; i < rows; i++ {
			col.Times[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	default:
		return col, fmt.Errorf("%w: unknown kind for column %q", ErrBadFormat, field.Name)
	}
	return col, nil
}
