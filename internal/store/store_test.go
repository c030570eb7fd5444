package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pixel-blueprint/internal/blueprint"
	"pixel-blueprint/internal/errs"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/verify"
	"pixel-blueprint/pkg/geometry"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func document(name string, source []byte) *blueprint.Document {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &blueprint.Document{
		ID:       uuid.NewString(),
		Version:  blueprint.CurrentVersion,
		Name:     name,
		Created:  now,
		Modified: now,
		Image:    blueprint.ImageInfo{Width: 64, Height: 32, Hash: imgsrc.HashBytes(source), Format: "png"},
		Locks:    blueprint.Locks{PixelSpace: "1:1", NoNormalize: true},
		BoxesLen: 1,
		Nodes: []node.UINode{
			{ID: node.RootID, Rect: geometry.Rect{W: 64, H: 32}},
			{ID: "box-0", Rect: geometry.Rect{X: 4, Y: 4, W: 20, H: 10}, ParentID: node.RootID, Depth: 1},
		},
		Diff: blueprint.DiffState{History: []blueprint.DiffEntry{}},
	}
}

func TestCreateGet(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	source := []byte("png bytes")
	doc := document("login", source)

	require.NoError(t, s.Create(ctx, doc, source))

	got, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Nodes, got.Nodes)
	assert.Equal(t, doc.Image, got.Image)
	assert.True(t, doc.Created.Equal(got.Created))

	data, err := s.Source(ctx, doc.Image.Hash)
	require.NoError(t, err)
	assert.Equal(t, source, data)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, err := s.Get(ctx, "nope")
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))
	_, err = s.Source(ctx, "nope")
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))
	assert.True(t, errs.HasCode(s.Delete(ctx, "nope"), errs.CodeNotFound))
	assert.True(t, errs.HasCode(s.Save(ctx, document("x", nil)), errs.CodeNotFound))
}

func TestSaveUpdates(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	source := []byte("png bytes")
	doc := document("login", source)
	require.NoError(t, s.Create(ctx, doc, source))

	doc.Lock()
	require.NoError(t, s.Save(ctx, doc))

	got, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Locks.Locked)
	assert.False(t, got.DetectDrift(source).Detected)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Locked)
	assert.Equal(t, "login", list[0].Name)
	assert.Equal(t, 64, list[0].Width)
}

func TestListOrder(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	source := []byte("shared")

	older := document("older", source)
	newer := document("newer", source)
	newer.Modified = older.Modified.Add(time.Hour)
	require.NoError(t, s.Create(ctx, older, source))
	require.NoError(t, s.Create(ctx, newer, source))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].Name)
	assert.Equal(t, "older", list[1].Name)
}

func TestDiffHistory(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	source := []byte("png bytes")
	doc := document("login", source)
	require.NoError(t, s.Create(ctx, doc, source))

	for i := 0; i < blueprint.MaxHistory+3; i++ {
		e := doc.RecordDiff(verify.DiffMetrics{MismatchPct: float64(i) / 100, Pass: i%2 == 0}, "pixels", "")
		require.NoError(t, s.AppendDiff(ctx, doc.ID, e))
	}

	diffs, err := s.Diffs(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, diffs, blueprint.MaxHistory+3)
	assert.True(t, diffs[0].Pass)
	assert.False(t, diffs[1].Pass)
	assert.Equal(t, 0.01, diffs[1].MismatchPct)
	assert.Equal(t, "pixels", diffs[1].Source)

	require.NoError(t, s.Delete(ctx, doc.ID))
	diffs, err = s.Diffs(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	// The source outlives the document.
	_, err = s.Source(ctx, doc.Image.Hash)
	assert.NoError(t, err)
}

func TestFileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blueprints.db")
	source := []byte("png bytes")
	doc := document("login", source)

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, doc, source))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "login", got.Name)
}
