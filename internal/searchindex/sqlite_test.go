package searchindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = IndexSpec{
	Name: "listings",
	Fields: []Field{
		{Name: "id", Type: FieldString, Key: true},
		{Name: "title", Type: FieldString, Searchable: true},
		{Name: "description", Type: FieldString, Searchable: true},
		{Name: "category", Type: FieldString, Filterable: true},
		{Name: "tags", Type: FieldStringCollection, Searchable: true},
		{Name: "reservedPeriods", Type: FieldCollection},
	},
}

func setupIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := Open(":memory:", 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	require.NoError(t, idx.CreateIndexIfNotExists(context.Background(), testSpec))
	return idx
}

func TestIndexSpec_Validate(t *testing.T) {
	tests := []struct {
		name string
		spec IndexSpec
	}{
		{"bad name", IndexSpec{Name: "Bad-Name", Fields: []Field{{Name: "id", Type: FieldString, Key: true}}}},
		{"no key", IndexSpec{Name: "x", Fields: []Field{{Name: "id", Type: FieldString}}}},
		{"two keys", IndexSpec{Name: "x", Fields: []Field{{Name: "a", Type: FieldString, Key: true}, {Name: "b", Type: FieldString, Key: true}}}},
		{"non-string key", IndexSpec{Name: "x", Fields: []Field{{Name: "id", Type: FieldDate, Key: true}}}},
		{"searchable date", IndexSpec{Name: "x", Fields: []Field{{Name: "id", Type: FieldString, Key: true}, {Name: "at", Type: FieldDate, Searchable: true}}}},
		{"duplicate field", IndexSpec{Name: "x", Fields: []Field{{Name: "id", Type: FieldString, Key: true}, {Name: "id", Type: FieldString}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.spec.Validate(), ErrInvalidSpec)
		})
	}
	assert.NoError(t, testSpec.Validate())
	assert.Equal(t, "id", testSpec.KeyField())
	assert.Equal(t, []string{"title", "description", "tags"}, testSpec.SearchableFields())
}

func TestCreateIndexIfNotExists_Idempotent(t *testing.T) {
	idx := setupIndex(t)
	require.NoError(t, idx.CreateIndexIfNotExists(context.Background(), testSpec))
}

func TestCreateIndexIfNotExists_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	idx := setupIndex(t)
	require.NoError(t, idx.IndexDocument(ctx, "listings", Document{"id": "l1", "title": "Tent"}))

	reopened, err := NewSQLiteIndex(ctx, idx.db, 0)
	require.NoError(t, err)
	res, err := reopened.Search(ctx, "listings", "tent", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestIndexDocument_Search(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	docs := []Document{
		{"id": "l1", "title": "Camping tent", "description": "Four person tent", "category": "outdoors", "tags": []string{"camping"}},
		{"id": "l2", "title": "Kayak", "description": "Sit on top kayak with paddle", "category": "water"},
		{"id": "l3", "title": "Cordless drill", "description": "Drill for the weekend tent pegs", "category": "tools"},
	}
	for _, d := range docs {
		require.NoError(t, idx.IndexDocument(ctx, "listings", d))
	}

	res, err := idx.Search(ctx, "listings", "tent", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Hits, 2)
	// the title match ranks first
	assert.Equal(t, "l1", res.Hits[0].Key)
	assert.GreaterOrEqual(t, res.Hits[0].Score, res.Hits[1].Score)
	assert.Equal(t, "Camping tent", res.Hits[0].Document["title"])

	res, err = idx.Search(ctx, "listings", "camping", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	res, err = idx.Search(ctx, "listings", "tent", SearchOptions{Filter: map[string]string{"category": "tools"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "l3", res.Hits[0].Key)

	res, err = idx.Search(ctx, "listings", "*", SearchOptions{Top: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "l1", res.Hits[0].Key)

	res, err = idx.Search(ctx, "listings", "", SearchOptions{Top: 2, Skip: 2})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "l3", res.Hits[0].Key)
}

func TestSearch_QuerySyntaxIsLiteral(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexDocument(ctx, "listings", Document{"id": "l1", "title": "Tent"}))

	for _, q := range []string{`tent"`, `NEAR(tent`, `title:tent OR`, `-tent*`} {
		_, err := idx.Search(ctx, "listings", q, SearchOptions{})
		assert.NoError(t, err, q)
	}
}

func TestSearch_InvalidFilter(t *testing.T) {
	idx := setupIndex(t)
	_, err := idx.Search(context.Background(), "listings", "", SearchOptions{Filter: map[string]string{"title": "x"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	_, err = idx.Search(context.Background(), "listings", "", SearchOptions{Filter: map[string]string{"nope": "x"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestIndexDocument_Replaces(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.IndexDocument(ctx, "listings", Document{"id": "l1", "title": "Tent"}))
	res, err := idx.Search(ctx, "listings", "tent", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	// the cached result must not survive the write
	require.NoError(t, idx.IndexDocument(ctx, "listings", Document{"id": "l1", "title": "Hammock"}))
	res, err = idx.Search(ctx, "listings", "tent", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Empty(t, res.Hits)

	res, err = idx.Search(ctx, "listings", "hammock", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestIndexDocument_Errors(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	assert.ErrorIs(t, idx.IndexDocument(ctx, "missing", Document{"id": "x"}), ErrIndexNotFound)
	assert.ErrorIs(t, idx.IndexDocument(ctx, "listings", Document{"title": "no key"}), ErrInvalidDocument)
	assert.ErrorIs(t, idx.IndexDocument(ctx, "listings", Document{"id": 42}), ErrInvalidDocument)

	_, err := idx.Search(ctx, "missing", "x", SearchOptions{})
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestDeleteDocument(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexDocument(ctx, "listings", Document{"id": "l1", "title": "Tent"}))

	require.NoError(t, idx.DeleteDocument(ctx, "listings", "l1"))
	res, err := idx.Search(ctx, "listings", "tent", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	assert.ErrorIs(t, idx.DeleteDocument(ctx, "listings", "l1"), ErrDocumentNotFound)
	assert.ErrorIs(t, idx.DeleteDocument(ctx, "missing", "l1"), ErrIndexNotFound)
}

func TestSearch_Cached(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexDocument(ctx, "listings", Document{"id": "l1", "title": "Tent"}))

	first, err := idx.Search(ctx, "listings", "tent", SearchOptions{})
	require.NoError(t, err)
	second, err := idx.Search(ctx, "listings", "tent", SearchOptions{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, idx.cache.Len())
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"camping" "tent"`, ftsQuery("  camping   tent "))
	assert.Equal(t, `"say" """hi"""`, ftsQuery(`say "hi"`))
}

func TestFTSText(t *testing.T) {
	assert.Equal(t, "", ftsText(nil))
	assert.Equal(t, "a b", ftsText([]string{"a", "b"}))
	assert.Equal(t, "a 1", ftsText([]any{"a", 1}))
	assert.Equal(t, "7", ftsText(7))
}
