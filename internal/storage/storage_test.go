package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/conversation-engine/pkg/corpus"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseStore runs the same behaviour checks against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	got, err := s.GetEntityFlag(ctx, "npc-1", "dialogue-aura")
	require.NoError(t, err)
	assert.Nil(t, got, "unset flag should read as nil")

	require.NoError(t, s.SetEntityFlag(ctx, "npc-1", "dialogue-aura", []byte(`{"corpus_id":"a"}`)))
	require.NoError(t, s.SetEntityFlag(ctx, "npc-1", "dialogue-aura", []byte(`{"corpus_id":"b"}`)))
	got, err = s.GetEntityFlag(ctx, "npc-1", "dialogue-aura")
	require.NoError(t, err)
	assert.JSONEq(t, `{"corpus_id":"b"}`, string(got))

	other, err := s.GetEntityFlag(ctx, "npc-2", "dialogue-aura")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, s.UnsetEntityFlag(ctx, "npc-1", "dialogue-aura"))
	got, err = s.GetEntityFlag(ctx, "npc-1", "dialogue-aura")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, s.UnsetEntityFlag(ctx, "npc-1", "dialogue-aura"), "unset is idempotent")

	_, ok, err := s.GetSetting(ctx, "global-pause")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "global-pause", "true"))
	v, ok, err := s.GetSetting(ctx, "global-pause")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStorage("redis://"+mr.Addr(), "scene-1", quietLogger())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	// keys are namespaced by scene
	assert.True(t, mr.Exists("scene:scene-1:world-settings"))
	assert.Equal(t, "true", mr.HGet("scene:scene-1:world-settings", "global-pause"))
}

func TestRedisStorage_PlainAddress(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStorage(mr.Addr(), "scene-1", quietLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Ping(context.Background()))
}

func TestRedisStorage_PingFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(mr.Addr(), "scene-1", quietLogger())
	require.NoError(t, err)
	defer s.Close()

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestSQLiteStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStorage(path, "scene-1", quietLogger())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	// a second scene in the same file sees nothing of the first
	other, err := NewSQLiteStorage(path, "scene-2", quietLogger())
	require.NoError(t, err)
	defer other.Close()
	_, ok, err := other.GetSetting(context.Background(), "global-pause")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockStorage(t *testing.T) {
	m := NewMockStorage()
	exerciseStore(t, m)

	boom := errors.New("boom")
	m.SetFlagWriteError(boom)
	assert.ErrorIs(t, m.SetEntityFlag(context.Background(), "npc-1", "k", []byte("v")), boom)
	m.SetSettingWriteError(boom)
	assert.ErrorIs(t, m.SetSetting(context.Background(), "k", "v"), boom)
	m.SetPingError(boom)
	assert.ErrorIs(t, m.Ping(context.Background()), boom)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Open("redis", mr.Addr(), "scene-1", quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &RedisStorage{}, s)
	s.Close()

	s, err = Open("sqlite", filepath.Join(t.TempDir(), "x.db"), "scene-1", quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStorage{}, s)
	s.Close()

	_, err = Open("etcd", "", "scene-1", quietLogger())
	assert.Error(t, err)
}

func TestFileCorpora(t *testing.T) {
	dataDir := t.TempDir()
	corporaDir := filepath.Join(dataDir, "corpora")
	require.NoError(t, os.MkdirAll(corporaDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corporaDir, "tavern.json"),
		[]byte(`{"name":"Tavern Chatter","entries":["Ale!","More ale!"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(corporaDir, "guards.json"),
		[]byte(`{"entries":["Halt."]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(corporaDir, "broken.json"),
		[]byte(`{not json`), 0o644))

	fc := NewFileCorpora(dataDir, quietLogger())
	ctx := context.Background()

	c, err := fc.Resolve(ctx, "tavern")
	require.NoError(t, err)
	assert.Equal(t, "Tavern Chatter", c.Name())
	assert.Equal(t, 2, c.Len())

	g, err := fc.Resolve(ctx, "guards")
	require.NoError(t, err)
	assert.Equal(t, "guards", g.Name(), "name defaults to the file id")

	_, err = fc.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, corpus.ErrNotFound)
	_, err = fc.Resolve(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, corpus.ErrNotFound)

	list, err := fc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2, "broken files are skipped")
	assert.Equal(t, "Tavern Chatter", list[0].Name)
	assert.Equal(t, "guards", list[1].Name)

	// edits on disk are visible on the next resolve
	require.NoError(t, os.WriteFile(filepath.Join(corporaDir, "tavern.json"),
		[]byte(`{"name":"Tavern Chatter","entries":["Only one"]}`), 0o644))
	c, err = fc.Resolve(ctx, "tavern")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestFileCorpora_MissingDirectory(t *testing.T) {
	fc := NewFileCorpora(filepath.Join(t.TempDir(), "nope"), quietLogger())
	list, err := fc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
