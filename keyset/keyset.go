// Package keyset serves stable pages over a (sort key DESC, tie break DESC)
// order using opaque cursors. Inserts between requests never shift or repeat
// rows already served.
package keyset

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Querier returns up to limit rows strictly after the cursor in
// (SortKey DESC, TieBreak DESC) order; after is nil for the first page.
type Querier[T, F any] interface {
	QueryAfter(ctx context.Context, filter F, after *Cursor, limit int) ([]T, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc[T, F any] func(ctx context.Context, filter F, after *Cursor, limit int) ([]T, error)

func (f QuerierFunc[T, F]) QueryAfter(ctx context.Context, filter F, after *Cursor, limit int) ([]T, error) {
	return f(ctx, filter, after, limit)
}

type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

type Options[T, F any] struct {
	Querier Querier[T, F]  // required
	Cursor  func(T) Cursor // required; position of a row
	Scope   func(F) string // binds cursors to a filter; nil binds to Name only
	Name    string         // span attribute and scope prefix
	Default int            // default 10
	Max     int            // default 100
	Tracer  trace.Tracer
}

type Paginator[T, F any] struct {
	q      Querier[T, F]
	pos    func(T) Cursor
	scope  func(F) string
	name   string
	def    int
	max    int
	tracer trace.Tracer
}

func NewPaginator[T, F any](opts Options[T, F]) (*Paginator[T, F], error) {
	if opts.Querier == nil {
		return nil, errors.New("keyset: querier is required")
	}
	if opts.Cursor == nil {
		return nil, errors.New("keyset: cursor func is required")
	}
	p := &Paginator[T, F]{
		q:      opts.Querier,
		pos:    opts.Cursor,
		scope:  opts.Scope,
		name:   opts.Name,
		def:    opts.Default,
		max:    opts.Max,
		tracer: opts.Tracer,
	}
	if p.max <= 0 {
		p.max = MaxLimit
	}
	if p.def <= 0 {
		p.def = DefaultLimit
	}
	if p.def > p.max {
		return nil, fmt.Errorf("keyset: default limit %d exceeds max %d", p.def, p.max)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/unkn0wn-root/examcache/keyset")
	}
	return p, nil
}

// Limit normalizes a requested page size: values below 1 take the default,
// values above the max are clamped.
func (p *Paginator[T, F]) Limit(n int) int {
	switch {
	case n < 1:
		return p.def
	case n > p.max:
		return p.max
	default:
		return n
	}
}

// ListPage returns the page after cursor, or the first page for "". A
// cursor that does not decode under filter's scope fails with
// examcache.ErrInvalidCursor.
func (p *Paginator[T, F]) ListPage(ctx context.Context, filter F, limit int, cursor string) (Page[T], error) {
	limit = p.Limit(limit)
	scope := p.scopeOf(filter)

	ctx, span := p.tracer.Start(ctx, "keyset.ListPage", trace.WithAttributes(
		attribute.String("keyset.name", p.name),
		attribute.Int("keyset.limit", limit),
		attribute.Bool("keyset.first", cursor == ""),
	))
	defer span.End()

	var after *Cursor
	if cursor != "" {
		c, err := DecodeCursor(cursor, scope)
		if err != nil {
			span.RecordError(err)
			return Page[T]{}, err
		}
		after = &c
	}

	rows, err := p.q.QueryAfter(ctx, filter, after, limit+1)
	if err != nil {
		span.RecordError(err)
		return Page[T]{}, fmt.Errorf("keyset: query: %w", err)
	}

	page := Page[T]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.HasMore = true
		page.NextCursor = EncodeCursor(p.pos(rows[limit-1]), scope)
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	span.SetAttributes(
		attribute.Int("keyset.items", len(page.Items)),
		attribute.Bool("keyset.has_more", page.HasMore),
	)
	return page, nil
}

func (p *Paginator[T, F]) scopeOf(filter F) string {
	if p.scope == nil {
		return p.name
	}
	return p.name + "\x00" + p.scope(filter)
}
