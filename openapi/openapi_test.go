package openapi

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gophersatwork/buildcache"
)

const chatSpec = `openapi: 3.0.0
info:
  title: Chat
paths:
  /chat:
    post:
      operationId: chat
      summary: Send a message
      responses:
        200:
          description: OK
  /chat/history:
    get:
      summary: List history
      parameters:
        - name: limit
          in: query
    delete:
      summary: Clear history
    x-internal: true
`

func newTestIndexer(t *testing.T, files map[string]string) *Indexer {
	t.Helper()

	memFs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(memFs, name, []byte(content), 0o644))
	}
	return NewIndexer(WithFs(memFs))
}

func TestIndexer_Build(t *testing.T) {
	ix := newTestIndexer(t, map[string]string{"/spec.yaml": chatSpec})

	index, err := ix.Build("/spec.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"chat", "delete-/chat/history", "get-/chat/history"}, index.Keys())
	assert.Equal(t, "/chat", index["chat"].Path)
	assert.Equal(t, "post", index["chat"].Method)
	assert.Equal(t, "chat", index["chat"].OperationID)
	assert.Empty(t, index["get-/chat/history"].OperationID)
	assert.NotEqual(t, index["get-/chat/history"].Hash, index["delete-/chat/history"].Hash)
}

func TestIndexer_Build_MissingOrUnparseable(t *testing.T) {
	ix := newTestIndexer(t, map[string]string{"/broken.yaml": "paths: [unterminated"})

	index, err := ix.Build("/missing.yaml")
	assert.NoError(t, err)
	assert.Nil(t, index)

	index, err = ix.Build("/broken.yaml")
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.Nil(t, index)
}

func TestIndexer_HashIgnoresFormatting(t *testing.T) {
	reordered := `# reformatted
paths:
  /chat/history:
    delete:
      summary: Clear history
    get:
      parameters: [{in: query, name: limit}]
      summary: List history
  /chat:
    post:
      responses:
        "200":
          description: OK
      summary: Send a message
      operationId: chat
      tags: [ignored]
`
	ix := NewIndexer()

	a, err := ix.Parse([]byte(chatSpec))
	require.NoError(t, err)
	b, err := ix.Parse([]byte(reordered))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestIndexer_JSONDocument(t *testing.T) {
	ix := NewIndexer()

	index, err := ix.Parse([]byte(`{"paths":{"/a":{"get":{"summary":"A"},"parameters":[]}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"get-/a"}, index.Keys())
}

func TestCompare(t *testing.T) {
	old := Index{"get-/a": {Path: "/a", Method: "get", Hash: "H1"}}
	new := Index{
		"get-/a":  {Path: "/a", Method: "get", Hash: "H2"},
		"post-/b": {Path: "/b", Method: "post", Hash: "H3"},
	}

	d := Compare(old, new)
	assert.Equal(t, []string{"post-/b"}, d.Added)
	assert.Empty(t, d.Removed)
	assert.Equal(t, []string{"get-/a"}, d.Changed)

	t.Run("Reverse", func(t *testing.T) {
		d := Compare(new, old)
		assert.Empty(t, d.Added)
		assert.Equal(t, []string{"post-/b"}, d.Removed)
		assert.Equal(t, []string{"get-/a"}, d.Changed)
	})

	t.Run("Nil old", func(t *testing.T) {
		d := Compare(nil, new)
		assert.Equal(t, []string{"get-/a", "post-/b"}, d.Added)
		assert.Empty(t, d.Removed)
	})

	t.Run("Nil new", func(t *testing.T) {
		d := Compare(old, nil)
		assert.Empty(t, d.Added)
		assert.Equal(t, []string{"get-/a"}, d.Removed)
	})

	t.Run("Identical", func(t *testing.T) {
		assert.True(t, Compare(old, old).Empty())
	})
}

func TestAffectedBy(t *testing.T) {
	current := Index{
		"get-/a":  {Hash: "H2"},
		"post-/b": {Hash: "H3"},
	}

	t.Run("No current index", func(t *testing.T) {
		a := AffectedBy(current, nil)
		assert.True(t, a.All)
		assert.Empty(t, a.Operations)
	})

	t.Run("No previous index", func(t *testing.T) {
		a := AffectedBy(nil, current)
		assert.True(t, a.All)
		assert.Equal(t, []string{"get-/a", "post-/b"}, a.Operations)
		assert.Nil(t, a.Diff)
	})

	t.Run("Unchanged", func(t *testing.T) {
		a := AffectedBy(current, current)
		assert.False(t, a.All)
		assert.Empty(t, a.Operations)
	})

	t.Run("Changed", func(t *testing.T) {
		a := AffectedBy(Index{"get-/a": {Hash: "H1"}, "delete-/c": {Hash: "H4"}}, current)
		assert.False(t, a.All)
		assert.Equal(t, []string{"get-/a", "post-/b"}, a.Operations)
		require.NotNil(t, a.Diff)
		assert.Equal(t, []string{"delete-/c"}, a.Diff.Removed)
	})
}

func TestIndexer_Plan(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "/project/openapi/chat.yaml", []byte(chatSpec), 0o644))

	cache, err := buildcache.Open("/project", buildcache.WithFs(memFs))
	require.NoError(t, err)

	var logs bytes.Buffer
	ix := NewIndexer(WithFs(memFs), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	id := buildcache.MustTargetID("openapi", "client:chat")

	plan := ix.Plan("/project/openapi/chat.yaml", cache, id)
	assert.True(t, plan.All)
	assert.True(t, plan.FullRebuild)
	require.NotNil(t, plan.Current)

	cache.MarkBuilt(id, buildcache.Inputs{"spec": "h1"}, nil)
	require.NoError(t, Record(cache, id, plan.Current))

	plan = ix.Plan("/project/openapi/chat.yaml", cache, id)
	assert.False(t, plan.All)
	assert.False(t, plan.FullRebuild)

	edited := chatSpec + "  /chat/stream:\n    get:\n      summary: Stream\n"
	require.NoError(t, afero.WriteFile(memFs, "/project/openapi/chat.yaml", []byte(edited), 0o644))

	logs.Reset()
	plan = ix.Plan("/project/openapi/chat.yaml", cache, id)
	assert.False(t, plan.All)
	assert.True(t, plan.FullRebuild)
	assert.Equal(t, []string{"get-/chat/stream"}, plan.Diff.Added)
	assert.Contains(t, logs.String(), "operation changes detected")
}
