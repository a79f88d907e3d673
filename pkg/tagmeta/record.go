// ABOUTME: Provenance record kept in an object's metadata attribute and its JSON codec
// ABOUTME: Decoding is strict; anything that is not a tag -> provenance object is corrupt

package tagmeta

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// TimestampLayout is the format of Provenance.Timestamp, e.g. "07-Mar-2024 (14:05:09)".
const TimestampLayout = "02-Jan-2006 (15:04:05)"

// ErrCorruptRecord marks a metadata attribute whose content does not decode.
var ErrCorruptRecord = errors.New("corrupt tag metadata record")

// Provenance says who applied a tag, when, and what the catalogs said about it.
type Provenance struct {
	User        string `json:"User"`
	Timestamp   string `json:"Timestamp"`
	Association string `json:"Association"`
	Description string `json:"Description"`
}

// Time parses Timestamp in the local zone.
func (p Provenance) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, p.Timestamp, time.Local)
}

// Record maps tag names to provenance. A nil Record means the object has no
// metadata attribute; an empty one means the attribute holds "{}".
type Record map[string]Provenance

// Tags returns the tag names in sorted order.
func (r Record) Tags() []string {
	out := make([]string, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Encode renders the record as JSON with keys in sorted order.
func Encode(r Record) (string, error) {
	if r == nil {
		r = Record{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", errors.Wrap(err, "encode tag metadata")
	}
	return string(b), nil
}

// Decode parses an attribute value. An empty string is an empty record.
func Decode(s string) (Record, error) {
	if len(bytes.TrimSpace([]byte(s))) == 0 {
		return Record{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()

	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode tag metadata"), ErrCorruptRecord)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(ErrCorruptRecord, "trailing data after record")
	}
	if r == nil {
		// the literal null
		return nil, errors.Wrap(ErrCorruptRecord, "record is null")
	}
	return r, nil
}
