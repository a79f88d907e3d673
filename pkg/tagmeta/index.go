// ABOUTME: Cross-object provenance index built by scanning the scene for metadata records
// ABOUTME: Answers which objects carry a tag, who applied it, and when

package tagmeta

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/nainya/tagstore/pkg/scene"
)

// Row is one tag entry of one object's record.
type Row struct {
	Object string `json:"object"`
	Tag    string `json:"tag"`
	Provenance
}

// Field names a Row column for ByField.
type Field string

const (
	FieldObject      Field = "Object"
	FieldTag         Field = "Tag"
	FieldUser        Field = "User"
	FieldAssociation Field = "Association"
	FieldDescription Field = "Description"
)

// Query selects rows. Empty fields and zero times do not filter; the rest
// are ANDed. Limit 0 means no limit.
type Query struct {
	Tag         string
	User        string
	Association string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Index is a snapshot of every record in a scene scope.
type Index struct {
	rows    []Row
	byTag   map[string][]int
	skipped []string
}

// BuildIndex reads the records of all objects in scope. Objects whose record
// does not decode are skipped and reported by Skipped.
func BuildIndex(ctx context.Context, s *Store, scope scene.ObjectQuery) (*Index, error) {
	objects, err := s.scene.ListObjects(ctx, scope)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list objects"), scene.ErrEnumeration)
	}

	ix := &Index{byTag: make(map[string][]int)}
	for _, obj := range objects {
		rec, present, err := s.load(ctx, obj)
		if errors.Is(err, ErrCorruptRecord) {
			s.logger.Warn().Err(err).Str("object", obj).Msg("skipping corrupt metadata record")
			ix.skipped = append(ix.skipped, obj)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		for _, tag := range rec.Tags() {
			ix.byTag[tag] = append(ix.byTag[tag], len(ix.rows))
			ix.rows = append(ix.rows, Row{Object: obj, Tag: tag, Provenance: rec[tag]})
		}
	}
	return ix, nil
}

// Len returns the number of rows.
func (ix *Index) Len() int { return len(ix.rows) }

// Skipped lists objects whose record could not be decoded.
func (ix *Index) Skipped() []string { return append([]string(nil), ix.skipped...) }

// Rows returns every row, ordered by object in scene order then by tag.
func (ix *Index) Rows() []Row { return append([]Row(nil), ix.rows...) }

// Tags returns every tag that appears in the index, sorted.
func (ix *Index) Tags() []string {
	out := make([]string, 0, len(ix.byTag))
	for t := range ix.byTag {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ByTag returns the rows for tag.
func (ix *Index) ByTag(tag string, limit int) []Row {
	idx := ix.byTag[tag]
	out := make([]Row, 0, len(idx))
	for _, i := range idx {
		out = append(out, ix.rows[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ByField returns rows whose field equals value.
func (ix *Index) ByField(field Field, value string, limit int) ([]Row, error) {
	get, err := fieldGetter(field)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, r := range ix.rows {
		if get(r) != value {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Match returns the rows that satisfy every filter in q. Rows whose
// timestamp does not parse never match a time bound.
func (ix *Index) Match(q Query) []Row {
	candidates := ix.rows
	if q.Tag != "" {
		candidates = ix.ByTag(q.Tag, 0)
	}

	var out []Row
	for _, r := range candidates {
		if q.User != "" && r.User != q.User {
			continue
		}
		if q.Association != "" && r.Association != q.Association {
			continue
		}
		if !q.Since.IsZero() || !q.Until.IsZero() {
			t, err := r.Time()
			if err != nil {
				continue
			}
			if !q.Since.IsZero() && t.Before(q.Since) {
				continue
			}
			if !q.Until.IsZero() && t.After(q.Until) {
				continue
			}
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Objects returns the distinct objects of rows in first-seen order.
func Objects(rows []Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.Object] {
			seen[r.Object] = true
			out = append(out, r.Object)
		}
	}
	return out
}

func fieldGetter(f Field) (func(Row) string, error) {
	switch f {
	case FieldObject:
		return func(r Row) string { return r.Object }, nil
	case FieldTag:
		return func(r Row) string { return r.Tag }, nil
	case FieldUser:
		return func(r Row) string { return r.User }, nil
	case FieldAssociation:
		return func(r Row) string { return r.Association }, nil
	case FieldDescription:
		return func(r Row) string { return r.Description }, nil
	default:
		return nil, errors.Newf("unknown provenance field %q", string(f))
	}
}
