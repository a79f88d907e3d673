// Package server implements the gRPC tagstore service
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/tagstore/internal/logger"
	"github.com/nainya/tagstore/internal/metrics"
	"github.com/nainya/tagstore/pkg/resolve"
	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/search"
	"github.com/nainya/tagstore/pkg/tagmeta"
	"github.com/nainya/tagstore/pkg/tags"
)

// Options configures a Server.
type Options struct {
	Scene scene.Scene
	// Registry defaults to the standard catalogs.
	Registry *tags.Registry
	// Departments narrows the catalogs used by every call. Empty means all.
	Departments []string
	// Chooser settles ambiguous lookups. Nil fails them.
	Chooser   resolve.Chooser
	User      string
	Attribute string
	// CacheTTL keeps search results until a scene attribute changes or the
	// TTL expires. Zero disables the cache.
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
	Tracer   trace.Tracer
}

// Server implements TagServiceServer
type Server struct {
	scene    scene.Scene
	registry *tags.Registry
	catalogs tags.CatalogList
	resolver *resolve.Resolver
	engine   *search.Engine
	store    *tagmeta.Store

	// mu serializes metadata writes; reads share it.
	mu      sync.RWMutex
	cache   *cache.Cache
	unwatch func()
	// generation counts scene attribute changes; a search result is cached
	// only if no change happened while it ran.
	generation atomic.Uint64

	metrics   *metrics.Metrics
	log       *logger.Logger
	startTime time.Time
}

// NewServer creates a new gRPC server instance
func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Scene == nil {
		return nil, errors.New("server requires a scene")
	}
	registry := opts.Registry
	if registry == nil {
		registry = tags.Standard()
	}
	catalogs, err := registry.Select(opts.Departments...)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetricsWith(prometheus.NewRegistry())
	}
	chooser := opts.Chooser
	if chooser == nil {
		chooser = resolve.FailOnAmbiguity
	}

	resolver := resolve.New(resolve.WithChooser(chooser), resolve.WithLogger(log.SearchLogger()))
	s := &Server{
		scene:    opts.Scene,
		registry: registry,
		catalogs: catalogs,
		resolver: resolver,
		engine: search.NewEngine(opts.Scene, catalogs,
			search.WithResolver(resolver),
			search.WithLogger(log.SearchLogger()),
			search.WithTracer(opts.Tracer),
		),
		store: tagmeta.NewStore(opts.Scene, catalogs,
			tagmeta.WithResolver(resolver),
			tagmeta.WithUser(opts.User),
			tagmeta.WithAttribute(opts.Attribute),
			tagmeta.WithLogger(log.MetadataLogger()),
		),
		metrics:   m,
		log:       log,
		startTime: time.Now(),
	}

	if opts.CacheTTL > 0 {
		s.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
		s.unwatch = opts.Scene.OnAttributeChanged("", "", func(scene.ChangeEvent) {
			s.generation.Add(1)
			s.cache.Flush()
		})
	}

	if objects, err := opts.Scene.ListObjects(ctx, scene.ObjectQuery{}); err == nil {
		m.SceneObjects.Set(float64(len(objects)))
	} else {
		log.Warn("could not count scene objects").Err(err).Send()
	}
	return s, nil
}

// Close stops cache invalidation. The scene is owned by the caller.
func (s *Server) Close() error {
	if s.unwatch != nil {
		s.unwatch()
	}
	return nil
}

// Uptime returns time since the server was created.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

func (s *Server) catalogsFor(r *request) (tags.CatalogList, error) {
	depts := r.strs("departments")
	if len(depts) == 0 {
		return s.catalogs, nil
	}
	return s.registry.Select(depts...)
}

func forceChoice(r *request) []resolve.ResolveOption {
	if fc := r.number("force_choice"); fc != nil {
		return []resolve.ResolveOption{resolve.WithForceChoice(*fc)}
	}
	return nil
}

func (s *Server) countAmbiguity(err error) {
	if errors.Is(err, resolve.ErrAmbiguous) {
		s.metrics.AmbiguousResolutions.Inc()
	}
}

// ========== Search ==========

type searchResponse struct {
	Objects        []search.ObjectMatch `json:"objects"`
	ObjectCount    int                  `json:"object_count"`
	AttributeCount int                  `json:"attribute_count"`
	Cached         bool                 `json:"cached"`
}

func (s *Server) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	terms := r.strs("terms")
	b := search.NewBuilder(terms...).NodeType(r.str("node_type"))
	if r.boolean("all_attributes", false) {
		b.AllAttributes()
	}
	if r.boolean("substring", false) {
		b.Substring()
	}
	opts := b.Build()
	opts.SelectionOnly = r.boolean("selection_only", false)
	opts.IncludeHierarchy = r.boolean("include_hierarchy", false)
	opts.ForceChoice = r.number("force_choice")
	depts := r.strs("departments")
	catalogs, err := s.catalogsFor(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, toStatus(err)
	}
	opts.Catalogs = catalogs

	key := searchKey(opts, depts)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.metrics.SearchCacheHits.Inc()
			resp := v.(searchResponse)
			resp.Cached = true
			return toStruct(resp)
		}
		s.metrics.SearchCacheMisses.Inc()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	gen := s.generation.Load()
	start := time.Now()
	result, err := s.engine.Search(ctx, opts)
	duration := time.Since(start)

	if err != nil {
		s.countAmbiguity(err)
		s.metrics.RecordSearch(0, 0, duration, err)
		s.log.LogSearch(opts.Terms, 0, 0, duration, err)
		return nil, toStatus(err)
	}
	s.metrics.RecordSearch(result.Len(), result.AttributeCount(), duration, nil)
	s.log.LogSearch(opts.Terms, result.Len(), result.AttributeCount(), duration, nil)

	resp := searchResponse{
		Objects:        result.Objects,
		ObjectCount:    result.Len(),
		AttributeCount: result.AttributeCount(),
	}
	if resp.Objects == nil {
		resp.Objects = []search.ObjectMatch{}
	}
	if s.cache != nil && s.generation.Load() == gen {
		s.cache.SetDefault(key, resp)
	}
	return toStruct(resp)
}

func searchKey(o search.Options, depts []string) string {
	fc := "-"
	if o.ForceChoice != nil {
		fc = strconv.Itoa(*o.ForceChoice)
	}
	return fmt.Sprintf("%s|%s|%t|%t|%t|%t|%s|%s",
		strings.Join(o.Terms, ","), o.NodeType, o.UserDefinedOnly, o.Exact,
		o.SelectionOnly, o.IncludeHierarchy, strings.Join(depts, ","), fc)
}

// ========== Registry ==========

type tagView struct {
	Name        string `json:"name"`
	Association string `json:"association"`
	Description string `json:"description"`
}

type catalogView struct {
	Department string    `json:"department"`
	Tags       []tagView `json:"tags"`
}

func (s *Server) ListTags(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	catalogs, err := s.catalogsFor(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, toStatus(err)
	}

	views := make([]catalogView, 0, len(catalogs))
	for _, c := range catalogs {
		v := catalogView{Department: c.Department(), Tags: []tagView{}}
		for _, d := range c.Definitions() {
			v.Tags = append(v.Tags, tagView{Name: d.Name, Association: d.Association, Description: d.Description})
		}
		views = append(views, v)
	}
	return toStruct(map[string]interface{}{"catalogs": views})
}

func (s *Server) ResolveTag(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	tag := r.required("tag")
	catalogs, err := s.catalogsFor(r)
	ropts := forceChoice(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, toStatus(err)
	}

	lookup := catalogs.Logged(s.log.SearchLogger())
	entry, err := s.resolver.Entry(tag, catalogs, ropts...)
	if err != nil {
		s.countAmbiguity(err)
		return nil, toStatus(err)
	}
	return toStruct(map[string]interface{}{
		"tag":         tag,
		"association": entry.Association,
		"description": entry.Description,
		"known":       lookup.IsTagValid(tag),
		"departments": append([]string{}, lookup.CatalogsContaining(tag).Departments()...),
	})
}

// ========== Metadata ==========

func (s *Server) mutate(op, object string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := fn()
	duration := time.Since(start)
	s.metrics.RecordMetadataOperation(op, duration, err)
	s.log.LogMetadataOperation(op, object, duration, err)
	s.countAmbiguity(err)
	return err
}

func objectAck(object string) (*structpb.Struct, error) {
	return toStruct(map[string]interface{}{"object": object, "ok": true})
}

func (s *Server) ReadMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	object := r.required("object")
	if err := r.done(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, err := s.store.Read(ctx, object)
	s.mu.RUnlock()
	if err != nil {
		return nil, toStatus(err)
	}
	present := rec != nil
	if rec == nil {
		rec = tagmeta.Record{}
	}
	return toStruct(map[string]interface{}{"object": object, "present": present, "record": rec})
}

func (s *Server) CreateMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	object := r.required("object")
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := s.mutate("create", object, func() error { return s.store.Create(ctx, object) }); err != nil {
		return nil, toStatus(err)
	}
	return objectAck(object)
}

func (s *Server) ApplyTag(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	object := r.required("object")
	tag := r.required("tag")
	catalogs, err := s.catalogsFor(r)
	ropts := forceChoice(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, toStatus(err)
	}

	var p tagmeta.Provenance
	err = s.mutate("apply", object, func() error {
		var err error
		p, err = s.store.ApplyTag(ctx, object, tag, catalogs, ropts...)
		return err
	})
	if err != nil {
		return nil, toStatus(err)
	}
	s.metrics.TagsApplied.Inc()
	return toStruct(map[string]interface{}{"object": object, "tag": tag, "provenance": p})
}

func (s *Server) ApplyAllKnownTags(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	object := r.required("object")
	catalogs, err := s.catalogsFor(r)
	ropts := forceChoice(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, toStatus(err)
	}

	var applied []string
	err = s.mutate("apply_all", object, func() error {
		var err error
		applied, err = s.store.ApplyAllKnownTags(ctx, object, catalogs, ropts...)
		return err
	})
	if err != nil {
		return nil, toStatus(err)
	}
	s.metrics.TagsApplied.Add(float64(len(applied)))
	return toStruct(map[string]interface{}{"object": object, "applied": append([]string{}, applied...)})
}

func (s *Server) RemoveTag(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	object := r.required("object")
	tag := r.required("tag")
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := s.mutate("remove", object, func() error { return s.store.RemoveTag(ctx, object, tag) }); err != nil {
		return nil, toStatus(err)
	}
	return objectAck(object)
}

func (s *Server) ResetMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	object := r.required("object")
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := s.mutate("reset", object, func() error { return s.store.Reset(ctx, object) }); err != nil {
		return nil, toStatus(err)
	}
	return objectAck(object)
}

func (s *Server) DeleteMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	object := r.required("object")
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := s.mutate("delete", object, func() error { return s.store.Destroy(ctx, object) }); err != nil {
		return nil, toStatus(err)
	}
	return objectAck(object)
}

// ========== Provenance queries ==========

func (s *Server) FindProvenance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	r := newRequest(in)
	q := tagmeta.Query{
		Tag:         r.str("tag"),
		User:        r.str("user"),
		Association: r.str("association"),
		Since:       r.time("since"),
		Until:       r.time("until"),
	}
	if limit := r.number("limit"); limit != nil {
		q.Limit = *limit
	}
	scope := scene.ObjectQuery{
		NodeType:         r.str("node_type"),
		SelectionOnly:    r.boolean("selection_only", false),
		IncludeHierarchy: r.boolean("include_hierarchy", false),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := (search.Options{SelectionOnly: scope.SelectionOnly, IncludeHierarchy: scope.IncludeHierarchy}).Validate(); err != nil {
		return nil, toStatus(err)
	}

	s.mu.RLock()
	ix, err := tagmeta.BuildIndex(ctx, s.store, scope)
	s.mu.RUnlock()
	if err != nil {
		return nil, toStatus(err)
	}

	rows := ix.Match(q)
	if rows == nil {
		rows = []tagmeta.Row{}
	}
	return toStruct(map[string]interface{}{
		"rows":    rows,
		"objects": append([]string{}, tagmeta.Objects(rows)...),
		"skipped": append([]string{}, ix.Skipped()...),
	})
}
