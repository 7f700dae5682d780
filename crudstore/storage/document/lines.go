package document

import (
	"bufio"
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ministore/crudstore/crudstore/storage"
)

// maxLine bounds one encoded document in a dump file.
const maxLine = 64 << 20

// WriteLines writes recs as canonical extended JSON, one document per line.
func WriteLines(w io.Writer, s storage.Schema, recs []storage.Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range recs {
		b, err := bson.MarshalExtJSON(Encode(s, rec), true, false)
		if err != nil {
			return errors.Wrapf(err, "encode %s document", s.Collection())
		}
		_, _ = bw.Write(b)
		_ = bw.WriteByte('\n')
	}
	return errors.Wrapf(bw.Flush(), "write %s documents", s.Collection())
}

// ReadLines parses documents written by WriteLines. Keys that are not
// columns of s are ignored.
func ReadLines(r io.Reader, s storage.Schema) ([]storage.Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	cols := s.Columns()
	var out []storage.Record
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var doc bson.M
		if err := bson.UnmarshalExtJSON(b, true, &doc); err != nil {
			return nil, errors.Wrapf(err, "%s line %d", s.Collection(), line)
		}
		rec := make(storage.Record, len(doc))
		for _, c := range cols {
			if v, ok := doc[c.Name]; ok {
				rec[c.Name] = Decode(c, v)
			}
		}
		out = append(out, rec)
	}
	return out, errors.Wrapf(sc.Err(), "read %s documents", s.Collection())
}

// Decode converts driver types back to the canonical value types.
func Decode(c storage.Column, v any) any {
	switch x := v.(type) {
	case int32:
		if c.Type == storage.TypeFloat {
			return float64(x)
		}
		return int64(x)
	case int64:
		if c.Type == storage.TypeFloat {
			return float64(x)
		}
	case primitive.DateTime:
		return x.Time().UTC()
	}
	return plain(v)
}

func plain(v any) any {
	switch x := v.(type) {
	case bson.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case int32:
		return int64(x)
	case primitive.DateTime:
		return x.Time().UTC()
	}
	return v
}
