// ABOUTME: Search engine matching scene attribute names against term lists
// ABOUTME: Annotates matches with catalog metadata and degrades unreadable values to a placeholder

package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nainya/tagstore/pkg/resolve"
	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/tags"
)

// Placeholders recorded when a value or type cannot be read.
const (
	UnreadableValue = "<unreadable>"
	UnknownType     = "unknown"
)

// Engine runs searches against one scene.
type Engine struct {
	scene    scene.Scene
	catalogs tags.CatalogList
	resolver *resolve.Resolver
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for search spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithResolver sets the resolver used for annotation.
func WithResolver(r *resolve.Resolver) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.resolver = r
		}
	}
}

// NewEngine creates a search engine over sc annotating from catalogs.
func NewEngine(sc scene.Scene, catalogs tags.CatalogList, opts ...EngineOption) *Engine {
	e := &Engine{
		scene:    sc,
		catalogs: catalogs,
		resolver: resolve.New(),
		logger:   zerolog.Nop(),
		tracer:   noop.NewTracerProvider().Tracer("search"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search enumerates candidate objects and records every attribute whose
// name matches a term. Enumeration failures and unresolved ambiguity abort
// the search; value read failures do not.
func (e *Engine) Search(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.StringSlice("search.terms", opts.Terms),
		attribute.Bool("search.exact", opts.Exact),
		attribute.String("search.node_type", opts.NodeType),
		attribute.Bool("search.selection_only", opts.SelectionOnly),
	))
	defer span.End()

	result, candidates, err := e.search(ctx, opts)
	span.SetAttributes(attribute.Int("search.candidates", candidates))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("search.objects", result.Len()),
		attribute.Int("search.attributes", result.AttributeCount()),
	)
	return result, nil
}

func (e *Engine) search(ctx context.Context, opts Options) (*Result, int, error) {
	objects, err := e.scene.ListObjects(ctx, scene.ObjectQuery{
		NodeType:         opts.NodeType,
		SelectionOnly:    opts.SelectionOnly,
		IncludeHierarchy: opts.IncludeHierarchy,
	})
	if err != nil {
		return nil, 0, errors.Mark(errors.Wrap(err, "list objects"), scene.ErrEnumeration)
	}

	catalogs := opts.Catalogs
	if catalogs == nil {
		catalogs = e.catalogs
	}
	var resolveOpts []resolve.ResolveOption
	if opts.ForceChoice != nil {
		resolveOpts = append(resolveOpts, resolve.WithForceChoice(*opts.ForceChoice))
	}

	result := &Result{}
	total := float64(len(objects))
	for i, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, len(objects), err
		}

		attrs, err := e.scene.ListAttributes(ctx, obj, opts.UserDefinedOnly)
		if err != nil {
			return nil, len(objects), errors.Mark(errors.Wrapf(err, "list attributes of %s", obj), scene.ErrEnumeration)
		}

		var records []AttributeRecord
		seen := make(map[string]bool, len(attrs))
		for _, attr := range attrs {
			if seen[attr] {
				continue
			}
			term, ok := MatchTerm(attr, opts.Terms, opts.Exact)
			if !ok {
				continue
			}
			seen[attr] = true

			rec, err := e.record(ctx, obj, attr, term, catalogs, resolveOpts)
			if err != nil {
				return nil, len(objects), err
			}
			records = append(records, rec)
		}

		if len(records) > 0 {
			result.Objects = append(result.Objects, ObjectMatch{
				Name:       obj,
				NodeType:   e.nodeType(ctx, obj),
				Attributes: records,
			})
		}

		if opts.Progress != nil {
			opts.Progress(float64(i+1) * ProgressSpan / total)
		}
	}
	return result, len(objects), nil
}

// MatchTerm returns the first term matching attr. Exact matching is
// case-sensitive equality; otherwise a case-insensitive substring test.
func MatchTerm(attr string, terms []string, exact bool) (string, bool) {
	lowered := strings.ToLower(attr)
	for _, term := range terms {
		if exact {
			if term == attr {
				return term, true
			}
			continue
		}
		if strings.Contains(lowered, strings.ToLower(term)) {
			return term, true
		}
	}
	return "", false
}

func (e *Engine) record(ctx context.Context, obj, attr, term string, catalogs tags.CatalogList, resolveOpts []resolve.ResolveOption) (AttributeRecord, error) {
	rec := AttributeRecord{
		Name:  attr,
		Term:  term,
		Value: e.readValue(ctx, obj, attr),
		Type:  UnknownType,
	}

	if typ, err := e.scene.AttributeType(ctx, obj, attr); err == nil {
		rec.Type = typ
	} else {
		e.logger.Debug().Err(err).Str("object", obj).Str("attribute", attr).Msg("attribute type unreadable")
	}

	entry, err := e.resolver.Entry(attr, catalogs, resolveOpts...)
	if err != nil {
		return rec, errors.Wrapf(err, "annotate %s.%s", obj, attr)
	}
	rec.Association = entry.Association
	rec.Description = entry.Description
	return rec, nil
}

func (e *Engine) readValue(ctx context.Context, obj, attr string) string {
	v, err := e.scene.ReadAttributeValue(ctx, obj, attr)
	if err == nil {
		return FormatValue(v)
	}
	conns, connErr := e.scene.ReadAttributeConnections(ctx, obj, attr)
	if connErr == nil {
		return FormatValue(conns)
	}
	e.logger.Warn().
		Str("object", obj).
		Str("attribute", attr).
		AnErr("value_error", err).
		AnErr("connections_error", connErr).
		Msg("attribute value unreadable")
	return UnreadableValue
}

func (e *Engine) nodeType(ctx context.Context, obj string) string {
	t, err := e.scene.NodeType(ctx, obj)
	if err != nil {
		e.logger.Debug().Err(err).Str("object", obj).Msg("node type unreadable")
		return UnknownType
	}
	return t
}

// FormatValue renders an attribute value as text.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case []string:
		return "[" + strings.Join(x, ", ") + "]"
	case []interface{}:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = FormatValue(p)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}
