package keyset_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/keyset"
)

type row struct {
	ID      string
	Owner   string
	Created time.Time
}

// table keeps rows and answers QueryAfter the way the SQL condition does.
type table struct {
	mu    sync.Mutex
	rows  []row
	calls []int
}

func (tb *table) insert(r row) {
	tb.mu.Lock()
	tb.rows = append(tb.rows, r)
	tb.mu.Unlock()
}

func (tb *table) QueryAfter(_ context.Context, owner string, after *keyset.Cursor, limit int) ([]row, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.calls = append(tb.calls, limit)

	var out []row
	for _, r := range tb.rows {
		if owner != "" && r.Owner != owner {
			continue
		}
		if after != nil {
			older := r.Created.Before(after.SortKey)
			tied := r.Created.Equal(after.SortKey) && r.ID < after.TieBreak
			if !older && !tied {
				continue
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func position(r row) keyset.Cursor { return keyset.Cursor{SortKey: r.Created, TieBreak: r.ID} }

func newPaginator(t *testing.T, tb *table) *keyset.Paginator[row, string] {
	t.Helper()
	p, err := keyset.NewPaginator(keyset.Options[row, string]{
		Querier: tb,
		Cursor:  position,
		Scope:   func(owner string) string { return owner },
		Name:    "rows",
	})
	require.NoError(t, err)
	return p
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seed inserts n rows where every three share a timestamp.
func seed(tb *table, n int, owner string) {
	for i := 0; i < n; i++ {
		tb.insert(row{
			ID:      fmt.Sprintf("%s-%03d", owner, i),
			Owner:   owner,
			Created: base.Add(time.Duration(i/3) * time.Second),
		})
	}
}

func drain(t *testing.T, p *keyset.Paginator[row, string], owner string, limit int) []string {
	t.Helper()
	var (
		ids    []string
		cursor string
	)
	for i := 0; ; i++ {
		require.Less(t, i, 1000, "pagination did not terminate")
		page, err := p.ListPage(context.Background(), owner, limit, cursor)
		require.NoError(t, err)
		for _, r := range page.Items {
			ids = append(ids, r.ID)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			return ids
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for _, c := range []keyset.Cursor{
		{SortKey: base, TieBreak: "42"},
		{SortKey: base.Add(123456789 * time.Nanosecond), TieBreak: ""},
		{SortKey: time.Unix(0, 0).UTC(), TieBreak: "ünïcode/+="},
		{SortKey: time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), TieBreak: strings.Repeat("x", 300)},
		// outside the range UnixNano can represent
		{SortKey: time.Time{}, TieBreak: "zero"},
		{SortKey: time.Date(3000, 6, 1, 12, 0, 0, 999999999, time.UTC), TieBreak: "far"},
		{SortKey: time.Date(1500, 1, 1, 0, 0, 0, 1, time.UTC), TieBreak: "past"},
	} {
		s := keyset.EncodeCursor(c, "scope")
		got, err := keyset.DecodeCursor(s, "scope")
		require.NoError(t, err)
		assert.True(t, c.SortKey.Equal(got.SortKey), "sort key %v != %v", c.SortKey, got.SortKey)
		assert.Equal(t, c.TieBreak, got.TieBreak)
	}
}

func TestCursorRejectsTampering(t *testing.T) {
	s := keyset.EncodeCursor(keyset.Cursor{SortKey: base, TieBreak: "17"}, "scope")
	raw := []byte(s)

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not a cursor!",
		"truncated": s[:len(s)-3],
		"appended":  s + "AA",
	}
	for i := range raw {
		flipped := append([]byte(nil), raw...)
		if flipped[i] == 'A' {
			flipped[i] = 'B'
		} else {
			flipped[i] = 'A'
		}
		cases[fmt.Sprintf("flip@%d", i)] = string(flipped)
	}

	for name, c := range cases {
		_, err := keyset.DecodeCursor(c, "scope")
		assert.ErrorIs(t, err, examcache.ErrInvalidCursor, name)
	}
}

func TestCursorBoundToScope(t *testing.T) {
	s := keyset.EncodeCursor(keyset.Cursor{SortKey: base, TieBreak: "1"}, "alice")
	_, err := keyset.DecodeCursor(s, "bob")
	assert.ErrorIs(t, err, examcache.ErrInvalidCursor)
}

func TestListPageTraversesTiesExactlyOnce(t *testing.T) {
	tb := &table{}
	seed(tb, 25, "alice")
	seed(tb, 5, "bob")
	p := newPaginator(t, tb)

	for _, limit := range []int{1, 2, 3, 4, 7, 25, 100} {
		ids := drain(t, p, "alice", limit)
		require.Len(t, ids, 25, "limit %d", limit)

		seen := map[string]bool{}
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate %s at limit %d", id, limit)
			seen[id] = true
		}
		assert.Equal(t, "alice-024", ids[0])
		assert.Equal(t, "alice-000", ids[24])
	}
}

func TestListPageFetchesOneExtra(t *testing.T) {
	tb := &table{}
	seed(tb, 10, "alice")
	p := newPaginator(t, tb)

	page, err := p.ListPage(context.Background(), "alice", 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)
	assert.False(t, page.HasMore, "exactly limit rows means no next page")
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, []int{11}, tb.calls)

	page, err = p.ListPage(context.Background(), "alice", 4, "")
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Items, 4)
}

func TestListPageStableUnderInserts(t *testing.T) {
	tb := &table{}
	seed(tb, 9, "alice")
	p := newPaginator(t, tb)
	ctx := context.Background()

	first, err := p.ListPage(ctx, "alice", 4, "")
	require.NoError(t, err)

	// newer rows land at the head, rows tied with the cursor land before it
	tb.insert(row{ID: "alice-900", Owner: "alice", Created: base.Add(time.Hour)})
	tb.insert(row{ID: "alice-zzz", Owner: "alice", Created: first.Items[3].Created})

	var rest []string
	cursor := first.NextCursor
	for cursor != "" {
		page, err := p.ListPage(ctx, "alice", 4, cursor)
		require.NoError(t, err)
		for _, r := range page.Items {
			rest = append(rest, r.ID)
		}
		cursor = page.NextCursor
	}

	for _, r := range first.Items {
		assert.NotContains(t, rest, r.ID)
	}
	assert.NotContains(t, rest, "alice-900")
	assert.NotContains(t, rest, "alice-zzz")
	assert.Len(t, rest, 5)
}

func TestListPageRejectsForeignCursor(t *testing.T) {
	tb := &table{}
	seed(tb, 10, "alice")
	seed(tb, 10, "bob")
	p := newPaginator(t, tb)
	ctx := context.Background()

	page, err := p.ListPage(ctx, "alice", 3, "")
	require.NoError(t, err)
	calls := len(tb.calls)

	_, err = p.ListPage(ctx, "bob", 3, page.NextCursor)
	assert.ErrorIs(t, err, examcache.ErrInvalidCursor)
	_, err = p.ListPage(ctx, "alice", 3, page.NextCursor[:10])
	assert.ErrorIs(t, err, examcache.ErrInvalidCursor)
	assert.Len(t, tb.calls, calls, "an invalid cursor never reaches the querier")
}

func TestLimitNormalization(t *testing.T) {
	p := newPaginator(t, &table{})
	for in, want := range map[int]int{-5: 10, 0: 10, 1: 1, 50: 50, 100: 100, 101: 100, 1 << 20: 100} {
		assert.Equal(t, want, p.Limit(in), "limit %d", in)
	}

	_, err := keyset.NewPaginator(keyset.Options[row, string]{Querier: &table{}, Cursor: position, Default: 20, Max: 5})
	assert.Error(t, err)
	_, err = keyset.NewPaginator(keyset.Options[row, string]{Cursor: position})
	assert.Error(t, err)
	_, err = keyset.NewPaginator(keyset.Options[row, string]{Querier: &table{}})
	assert.Error(t, err)
}

func TestListPageQueryError(t *testing.T) {
	boom := errors.New("db down")
	p, err := keyset.NewPaginator(keyset.Options[row, string]{
		Querier: keyset.QuerierFunc[row, string](func(context.Context, string, *keyset.Cursor, int) ([]row, error) {
			return nil, boom
		}),
		Cursor: position,
	})
	require.NoError(t, err)

	_, err = p.ListPage(context.Background(), "", 5, "")
	assert.ErrorIs(t, err, boom)
}

func TestListPageEmpty(t *testing.T) {
	p := newPaginator(t, &table{})
	page, err := p.ListPage(context.Background(), "nobody", 0, "")
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}
