// Package resolve looks up the association and description of a tag across
// a catalog list. When several catalogs define the tag the choice is forced
// by index or delegated to a Chooser.
package resolve

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/nainya/tagstore/pkg/tags"
)

// NotAvailable is returned for tags no catalog defines.
const NotAvailable = "N/A"

// ErrAmbiguous marks a lookup that several catalogs answer and no policy
// settled, including a forced choice out of range.
var ErrAmbiguous = errors.New("tag resolution is ambiguous")

// Field selects which catalog entry field to resolve.
type Field int

const (
	Association Field = iota
	Description
)

func (f Field) String() string {
	switch f {
	case Association:
		return "association"
	case Description:
		return "description"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

func (f Field) of(e tags.Entry) string {
	if f == Association {
		return e.Association
	}
	return e.Description
}

// Resolver resolves tag fields. The zero value is not usable; use New.
type Resolver struct {
	chooser Chooser
	logger  zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithChooser sets the policy used for ambiguous lookups.
func WithChooser(c Chooser) Option {
	return func(r *Resolver) {
		if c != nil {
			r.chooser = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver that fails on ambiguity unless configured otherwise.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		chooser: FailOnAmbiguity,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type resolveConfig struct {
	force *int
}

// ResolveOption adjusts one Resolve call.
type ResolveOption func(*resolveConfig)

// WithForceChoice selects the i-th candidate when the lookup is ambiguous.
// It has no effect when zero or one catalog defines the tag.
func WithForceChoice(i int) ResolveOption {
	return func(c *resolveConfig) { c.force = &i }
}

// Candidates returns the field value from each catalog defining tag, one per
// distinct catalog, in list order. Unknown tags are expected here and are
// not logged.
func Candidates(tag string, catalogs tags.CatalogList, field Field) []string {
	var out []string
	for _, c := range catalogs.Defining(tag) {
		e, _ := c.Lookup(tag)
		out = append(out, field.of(e))
	}
	return out
}

// Resolve returns the requested field of tag.
func (r *Resolver) Resolve(tag string, catalogs tags.CatalogList, field Field, opts ...ResolveOption) (string, error) {
	var cfg resolveConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	candidates := Candidates(tag, catalogs, field)
	switch len(candidates) {
	case 0:
		r.logger.Debug().Str("tag", tag).Stringer("field", field).Msg("no catalog entry for tag")
		return NotAvailable, nil
	case 1:
		return candidates[0], nil
	}

	r.logger.Warn().
		Str("tag", tag).
		Stringer("field", field).
		Int("candidates", len(candidates)).
		Msg("multiple catalog entries for tag")

	if cfg.force != nil {
		return pick(tag, candidates, *cfg.force)
	}

	prompt := fmt.Sprintf("Select %s for tag %s.", article(field), tag)
	i, err := r.chooser.ChooseOne(candidates, prompt)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s of tag %s", field, tag)
	}
	return pick(tag, candidates, i)
}

// Entry resolves both fields of tag.
func (r *Resolver) Entry(tag string, catalogs tags.CatalogList, opts ...ResolveOption) (tags.Entry, error) {
	assoc, err := r.Resolve(tag, catalogs, Association, opts...)
	if err != nil {
		return tags.Entry{}, err
	}
	desc, err := r.Resolve(tag, catalogs, Description, opts...)
	if err != nil {
		return tags.Entry{}, err
	}
	return tags.Entry{Association: assoc, Description: desc}, nil
}

func pick(tag string, candidates []string, i int) (string, error) {
	if i < 0 || i >= len(candidates) {
		return "", errors.Wrapf(ErrAmbiguous, "choice %d out of range for tag %s with %d candidates", i, tag, len(candidates))
	}
	return candidates[i], nil
}

func article(f Field) string {
	if f == Association {
		return "an association"
	}
	return "a description"
}
