// ABOUTME: Lifecycle of the per-object tag provenance attribute
// ABOUTME: Every write unlocks, rewrites the whole record and locks again

package tagmeta

import (
	"context"
	"os"
	"os/user"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/nainya/tagstore/pkg/resolve"
	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/tags"
)

// Store reads and writes tag provenance on scene objects. It assumes a single
// writer per object; callers that share a Store across goroutines serialize
// mutations themselves.
type Store struct {
	scene    scene.Scene
	catalogs tags.CatalogList
	resolver *resolve.Resolver
	attr     string
	user     func() string
	clock    func() time.Time
	logger   zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithUser fixes the user recorded in provenance.
func WithUser(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.user = func() string { return name }
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithResolver sets the resolver used for association and description.
func WithResolver(r *resolve.Resolver) Option {
	return func(s *Store) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithAttribute overrides the metadata attribute name.
func WithAttribute(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.attr = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store over sc. catalogs is the default search space for
// ApplyTag and ApplyAllKnownTags.
func NewStore(sc scene.Scene, catalogs tags.CatalogList, opts ...Option) *Store {
	s := &Store{
		scene:    sc,
		catalogs: catalogs,
		resolver: resolve.New(),
		attr:     tags.MetadataAttr,
		user:     currentUser,
		clock:    time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attribute returns the name of the metadata attribute.
func (s *Store) Attribute() string { return s.attr }

// Has reports whether object carries the metadata attribute.
func (s *Store) Has(ctx context.Context, object string) (bool, error) {
	return s.scene.AttributeExists(ctx, object, s.attr)
}

// Create adds an empty record. It does nothing when one exists.
func (s *Store) Create(ctx context.Context, object string) error {
	ok, err := s.Has(ctx, object)
	if err != nil {
		return err
	}
	if ok {
		s.logger.Debug().Str("object", object).Str("attribute", s.attr).Msg("metadata attribute already exists")
		return nil
	}

	if err := s.scene.CreateStringAttribute(ctx, object, s.attr); err != nil {
		return errors.Wrapf(err, "create metadata on %s", object)
	}
	if err := s.scene.SetAttribute(ctx, object, s.attr, "{}", true); err != nil {
		return errors.Wrapf(err, "initialize metadata on %s", object)
	}
	s.logger.Debug().Str("object", object).Str("attribute", s.attr).Msg("metadata attribute created")
	return nil
}

// Read returns the record of object, or nil when it has none.
func (s *Store) Read(ctx context.Context, object string) (Record, error) {
	rec, present, err := s.load(ctx, object)
	if err != nil {
		return nil, err
	}
	if !present {
		s.logger.Warn().Str("object", object).Str("attribute", s.attr).Msg("object has no metadata attribute")
		return nil, nil
	}
	return rec, nil
}

// ApplyTag stamps provenance for tag, creating the record when missing.
// A nil catalog list uses the store's default.
func (s *Store) ApplyTag(ctx context.Context, object, tag string, catalogs tags.CatalogList, opts ...resolve.ResolveOption) (Provenance, error) {
	if catalogs == nil {
		catalogs = s.catalogs
	}
	rec, err := s.loadOrCreate(ctx, object)
	if err != nil {
		return Provenance{}, err
	}

	p, err := s.stamp(tag, catalogs, opts)
	if err != nil {
		return Provenance{}, err
	}
	rec[tag] = p
	if err := s.write(ctx, object, rec); err != nil {
		return Provenance{}, err
	}
	s.logger.Debug().Str("object", object).Str("tag", tag).Str("association", p.Association).Msg("tag metadata applied")
	return p, nil
}

// ApplyAllKnownTags stamps every catalogued tag that exists as an attribute
// on object, in one rewrite. It returns the tags stamped.
func (s *Store) ApplyAllKnownTags(ctx context.Context, object string, catalogs tags.CatalogList, opts ...resolve.ResolveOption) ([]string, error) {
	if catalogs == nil {
		catalogs = s.catalogs
	}
	rec, err := s.loadOrCreate(ctx, object)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, tag := range catalogs.TagNames() {
		ok, err := s.scene.AttributeExists(ctx, object, tag)
		if err != nil {
			return nil, errors.Wrapf(err, "check %s.%s", object, tag)
		}
		if !ok {
			continue
		}
		p, err := s.stamp(tag, catalogs, opts)
		if err != nil {
			return nil, err
		}
		rec[tag] = p
		applied = append(applied, tag)
	}

	if len(applied) == 0 {
		return nil, nil
	}
	if err := s.write(ctx, object, rec); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("object", object).Strs("tags", applied).Msg("known tag metadata applied")
	return applied, nil
}

// RemoveTag drops tag from the record. A missing tag or a missing record is
// not an error.
func (s *Store) RemoveTag(ctx context.Context, object, tag string) error {
	rec, present, err := s.load(ctx, object)
	if err != nil {
		return err
	}
	if !present {
		s.logger.Warn().Str("object", object).Str("tag", tag).Msg("object has no metadata attribute; nothing to remove")
		return nil
	}
	if _, ok := rec[tag]; !ok {
		s.logger.Debug().Str("object", object).Str("tag", tag).Msg("tag not in metadata")
	}
	delete(rec, tag)
	return s.write(ctx, object, rec)
}

// Reset replaces the record with an empty one.
func (s *Store) Reset(ctx context.Context, object string) error {
	if err := s.Destroy(ctx, object); err != nil {
		return err
	}
	if err := s.Create(ctx, object); err != nil {
		return err
	}
	s.logger.Debug().Str("object", object).Msg("metadata reset")
	return nil
}

// Destroy removes the metadata attribute. It does nothing when absent.
func (s *Store) Destroy(ctx context.Context, object string) error {
	ok, err := s.Has(ctx, object)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug().Str("object", object).Str("attribute", s.attr).Msg("metadata attribute does not exist")
		return nil
	}
	if err := s.scene.LockAttribute(ctx, object, s.attr, false); err != nil {
		return errors.Wrapf(err, "unlock metadata on %s", object)
	}
	if err := s.scene.DeleteAttribute(ctx, object, s.attr); err != nil {
		return errors.Wrapf(err, "delete metadata on %s", object)
	}
	s.logger.Debug().Str("object", object).Str("attribute", s.attr).Msg("metadata attribute removed")
	return nil
}

func (s *Store) load(ctx context.Context, object string) (Record, bool, error) {
	ok, err := s.Has(ctx, object)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := s.scene.ReadAttributeValue(ctx, object, s.attr)
	if err != nil {
		return nil, true, errors.Wrapf(err, "read metadata on %s", object)
	}
	text, isString := v.(string)
	if !isString {
		return nil, true, errors.Wrapf(ErrCorruptRecord, "%s.%s holds %T, not a string", object, s.attr, v)
	}
	rec, err := Decode(text)
	if err != nil {
		return nil, true, errors.Wrapf(err, "%s.%s", object, s.attr)
	}
	return rec, true, nil
}

func (s *Store) loadOrCreate(ctx context.Context, object string) (Record, error) {
	rec, present, err := s.load(ctx, object)
	if err != nil {
		return nil, err
	}
	if present {
		return rec, nil
	}
	s.logger.Warn().Str("object", object).Str("attribute", s.attr).Msg("object has no metadata attribute; creating it")
	if err := s.Create(ctx, object); err != nil {
		return nil, err
	}
	return Record{}, nil
}

func (s *Store) stamp(tag string, catalogs tags.CatalogList, opts []resolve.ResolveOption) (Provenance, error) {
	entry, err := s.resolver.Entry(tag, catalogs, opts...)
	if err != nil {
		return Provenance{}, err
	}
	return Provenance{
		User:        s.user(),
		Timestamp:   s.clock().Format(TimestampLayout),
		Association: entry.Association,
		Description: entry.Description,
	}, nil
}

// write rewrites the whole record inside an unlock/lock bracket. If the
// write fails the attribute is locked again before returning.
func (s *Store) write(ctx context.Context, object string, rec Record) error {
	text, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := s.scene.LockAttribute(ctx, object, s.attr, false); err != nil {
		return errors.Wrapf(err, "unlock metadata on %s", object)
	}
	if err := s.scene.SetAttribute(ctx, object, s.attr, text, true); err != nil {
		if relockErr := s.scene.LockAttribute(ctx, object, s.attr, true); relockErr != nil {
			s.logger.Error().Err(relockErr).Str("object", object).Msg("failed to relock metadata attribute")
		}
		return errors.Wrapf(err, "write metadata on %s", object)
	}
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
