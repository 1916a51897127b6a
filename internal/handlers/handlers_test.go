package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/conversation-engine/internal/dispatch"
	"github.com/jwebster45206/conversation-engine/internal/engine"
	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
	"github.com/jwebster45206/conversation-engine/internal/settings"
	"github.com/jwebster45206/conversation-engine/internal/storage"
	"github.com/jwebster45206/conversation-engine/pkg/corpus"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

const firstGroupID = "group-00000000-0000-0000-0000-000000000001"

type fixture struct {
	eng      *engine.Engine
	scene    *scene.Scene
	lib      *corpus.Library
	store    *storage.MockStorage
	settings *settings.Service
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		scene: scene.New(
			scene.Entity{ID: "pc", Name: "Player", Observer: true},
			scene.Entity{ID: "guard", Name: "Guard", Position: scene.Position{X: 10}},
			scene.Entity{ID: "smith", Name: "Smith", Position: scene.Position{X: 20}},
		),
		lib:    corpus.NewLibrary(corpus.NewTable("greetings", "Greetings", []string{"Hail!", "Well met."})),
		store:  storage.NewMockStorage(),
		logger: logger,
	}
	f.settings = settings.New(f.store, settings.Snapshot{
		AurasEnabled:    true,
		DefaultRange:    30,
		DefaultInterval: 10 * time.Second,
		FloatingText:    true,
		ChatMessage:     true,
	}, 120, logger)

	ids := 0
	eng, err := engine.New(engine.Options{
		Directory:    f.scene,
		Oracle:       scene.EuclideanOracle{},
		Corpora:      f.lib,
		Entities:     f.store,
		World:        f.store,
		Settings:     f.settings,
		Dispatcher:   dispatch.New(nil, &dispatch.MockPublisher{}, &dispatch.MockTextLog{}, logger),
		PollInterval: time.Hour,
		Logger:       logger,
		NewID: func() string {
			ids++
			return fmt.Sprintf("group-00000000-0000-0000-0000-%012d", ids)
		},
	})
	require.NoError(t, err)
	f.eng = eng
	return f
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func TestAuraHandler(t *testing.T) {
	f := newFixture(t)
	h := NewAuraHandler(f.eng, f.logger)

	rr := do(t, h, http.MethodPut, "/v1/auras/guard", `{"corpus_id":"greetings","range":40}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	b := decode[dialogue.AuraBinding](t, rr)
	assert.Equal(t, "guard", b.EntityID)
	assert.Equal(t, 40.0, b.Range)

	rr = do(t, h, http.MethodGet, "/v1/auras", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]dialogue.AuraBinding](t, rr), 1)

	rr = do(t, h, http.MethodPatch, "/v1/auras/guard", `{"range":60,"enabled":false}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	b = decode[dialogue.AuraBinding](t, rr)
	assert.Equal(t, 60.0, b.Range)
	assert.False(t, b.Enabled)

	rr = do(t, h, http.MethodGet, "/v1/auras/guard", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodDelete, "/v1/auras/guard", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/auras/guard", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuraHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		setup      func(f *fixture)
		wantStatus int
		wantField  string
	}{
		{name: "bad json", method: http.MethodPut, path: "/v1/auras/guard", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPut, path: "/v1/auras/guard", body: `{"corpus":"greetings"}`, wantStatus: http.StatusBadRequest},
		{name: "missing corpus", method: http.MethodPut, path: "/v1/auras/guard", body: `{"range":10}`, wantStatus: http.StatusBadRequest},
		{name: "range too large", method: http.MethodPut, path: "/v1/auras/guard", body: `{"corpus_id":"greetings","range":500}`, wantStatus: http.StatusBadRequest, wantField: "range"},
		{name: "unknown entity", method: http.MethodPut, path: "/v1/auras/ghost", body: `{"corpus_id":"greetings"}`, wantStatus: http.StatusNotFound},
		{name: "unknown corpus", method: http.MethodPut, path: "/v1/auras/guard", body: `{"corpus_id":"nope"}`, wantStatus: http.StatusNotFound},
		{name: "delete missing", method: http.MethodDelete, path: "/v1/auras/guard", wantStatus: http.StatusNotFound},
		{name: "patch missing", method: http.MethodPatch, path: "/v1/auras/guard", body: `{"enabled":true}`, wantStatus: http.StatusNotFound},
		{name: "patch nothing", method: http.MethodPatch, path: "/v1/auras/guard", body: `{}`, wantStatus: http.StatusBadRequest},
		{
			name: "storage failure", method: http.MethodPut, path: "/v1/auras/guard", body: `{"corpus_id":"greetings"}`,
			setup:      func(f *fixture) { f.store.SetFlagWriteError(errors.New("disk full")) },
			wantStatus: http.StatusInternalServerError,
		},
		{name: "nested path", method: http.MethodGet, path: "/v1/auras/guard/extra", wantStatus: http.StatusNotFound},
		{name: "post to collection", method: http.MethodPost, path: "/v1/auras", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			rr := do(t, NewAuraHandler(f.eng, f.logger), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())

			resp := decode[ErrorResponse](t, rr)
			assert.NotEmpty(t, resp.Error)
			if tt.wantField != "" {
				require.NotEmpty(t, resp.Fields)
				assert.Equal(t, tt.wantField, resp.Fields[0].Field)
			}
		})
	}
}

func TestGroupHandler(t *testing.T) {
	f := newFixture(t)
	h := NewGroupHandler(f.eng, f.logger)

	rr := do(t, h, http.MethodPost, "/v1/groups",
		`{"name":"forge","mode":"turn-taking","members":["guard","smith"],"shared_corpus_id":"greetings","delay":15}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[CreateGroupResponse](t, rr)
	assert.Equal(t, firstGroupID, created.ID)
	require.NotNil(t, created.Group)
	assert.Equal(t, dialogue.ModeTurnTaking, created.Group.Mode)
	assert.Equal(t, 15, created.Group.DelaySeconds)
	assert.Zero(t, created.Group.Range, "zero range follows the world default")

	rr = do(t, h, http.MethodGet, "/v1/groups", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]dialogue.GroupSummary](t, rr), 1)

	rr = do(t, h, http.MethodGet, "/v1/groups?member=pc", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())

	rr = do(t, h, http.MethodPut, "/v1/groups/"+firstGroupID,
		`{"name":"forge","mode":"scripted-custom","members":["guard","smith"],"script":[{"speaker_id":"smith","text":"Mind the anvil."}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	replaced := decode[dialogue.GroupSummary](t, rr)
	assert.Equal(t, dialogue.ModeScriptedCustom, replaced.Mode)
	assert.Equal(t, created.Group.CreatedAt, replaced.CreatedAt)

	rr = do(t, h, http.MethodPatch, "/v1/groups/"+firstGroupID, `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	toggled := decode[dialogue.GroupSummary](t, rr)
	require.NotNil(t, toggled.Enabled)
	assert.False(t, *toggled.Enabled)

	rr = do(t, h, http.MethodGet, "/v1/groups/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[engine.GroupStats](t, rr)
	assert.Equal(t, 1, stats.Disabled)
	assert.Equal(t, 1, stats.ByMode[dialogue.ModeScriptedCustom])

	rr = do(t, h, http.MethodDelete, "/v1/groups/"+firstGroupID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodGet, "/v1/groups/"+firstGroupID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGroupHandler_GroupIDs(t *testing.T) {
	f := newFixture(t)
	h := NewGroupHandler(f.eng, f.logger)

	rr := do(t, h, http.MethodPost, "/v1/groups",
		`{"name":"forge","mode":"scripted","members":["guard"],"shared_corpus_id":"greetings"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	for _, id := range []string{"forge", "group-1", "00000000-0000-0000-0000-000000000001"} {
		rr = do(t, h, http.MethodGet, "/v1/groups/"+id, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, id)
	}

	upper := "group-" + strings.ToUpper("0000000A-0000-0000-0000-000000000001")
	_, err := dialogue.ParseGroupID(upper)
	require.NoError(t, err)
	rr = do(t, h, http.MethodGet, "/v1/groups/"+upper, "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "valid ID, no such group")

	rr = do(t, h, http.MethodGet, "/v1/groups/group-00000000-0000-0000-0000-000000000001", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, firstGroupID, decode[dialogue.GroupSummary](t, rr).ID)

	rr = do(t, h, http.MethodDelete, "/v1/groups/group-00000000-0000-0000-0000-000000000999", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGroupHandler_ValidationReportsEveryField(t *testing.T) {
	f := newFixture(t)
	h := NewGroupHandler(f.eng, f.logger)

	rr := do(t, h, http.MethodPost, "/v1/groups", `{"name":"","mode":"random","members":["guard"],"tables_by_member":{"guard":"greetings"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[ErrorResponse](t, rr)

	var fields []string
	for _, fe := range resp.Fields {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "tables_by_member")
	assert.Empty(t, f.eng.ListGroups())
}

func TestGroupHandler_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.store.SetSettingWriteError(errors.New("read only"))
	h := NewGroupHandler(f.eng, f.logger)

	rr := do(t, h, http.MethodPost, "/v1/groups",
		`{"name":"forge","mode":"scripted","members":["guard"],"shared_corpus_id":"greetings"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode[CreateGroupResponse](t, rr)
	assert.Equal(t, firstGroupID, resp.ID)
	assert.NotEmpty(t, resp.Error)
	assert.NotNil(t, resp.Group)
}

func TestSettingsHandler(t *testing.T) {
	f := newFixture(t)
	h := NewSettingsHandler(f.settings, f.eng, f.logger)

	rr := do(t, h, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 10.0, got["default_interval"])
	assert.Equal(t, false, got["global_pause"])

	rr = do(t, h, http.MethodPut, "/v1/settings", `{"global_pause":true,"default_range":50,"chat_message":false}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, true, got["global_pause"])
	assert.Equal(t, 50.0, got["default_range"])
	assert.Equal(t, false, got["chat_message"])

	snap, err := f.settings.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.GlobalPause)

	// one bad field rejects the whole patch
	rr = do(t, h, http.MethodPatch, "/v1/settings", `{"global_pause":false,"default_interval":0.5}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	snap, err = f.settings.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.GlobalPause)
}

func TestMonitorHandler(t *testing.T) {
	f := newFixture(t)
	h := NewMonitorHandler(f.eng, f.logger)
	defer f.eng.Stop()

	rr := do(t, h, http.MethodPost, "/v1/monitor/start", "")
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[engine.Status](t, rr)
	assert.True(t, status.Running)

	rr = do(t, h, http.MethodPost, "/v1/monitor/pause", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[engine.Status](t, rr).Paused)

	rr = do(t, h, http.MethodPost, "/v1/monitor/resume", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[engine.Status](t, rr).Paused)

	rr = do(t, h, http.MethodPost, "/v1/monitor/stop", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[engine.Status](t, rr).Running)

	rr = do(t, h, http.MethodGet, "/v1/monitor", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/monitor/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/monitor/explode", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMonitorHandler_Reload(t *testing.T) {
	f := newFixture(t)
	flag, err := dialogue.AuraBinding{EntityID: "smith", CorpusID: "greetings", Range: 30, Enabled: true}.MarshalFlag()
	require.NoError(t, err)
	require.NoError(t, f.store.SetEntityFlag(context.Background(), "smith", dialogue.AuraFlagKey, flag))

	rr := do(t, NewMonitorHandler(f.eng, f.logger), http.MethodPost, "/v1/monitor/reload", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[ReloadResponse](t, rr).Auras)
	_, ok := f.eng.Aura("smith")
	assert.True(t, ok)
}

func TestSceneHandler(t *testing.T) {
	f := newFixture(t)
	h := NewSceneHandler(f.scene, f.eng, f.logger)

	rr := do(t, h, http.MethodGet, "/v1/scene/entities", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]scene.Entity](t, rr), 3)

	rr = do(t, h, http.MethodGet, "/v1/scene/entities?observers=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]scene.Entity](t, rr), 1)

	rr = do(t, h, http.MethodPut, "/v1/scene/entities/baker", `{"name":"Baker","position":{"x":3,"y":4}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	e := decode[scene.Entity](t, rr)
	assert.Equal(t, "baker", e.ID)
	assert.Equal(t, scene.Position{X: 3, Y: 4}, e.Position)

	rr = do(t, h, http.MethodPatch, "/v1/scene/entities/baker", `{"x":7,"y":1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, scene.Position{X: 7, Y: 1}, decode[scene.Entity](t, rr).Position)

	rr = do(t, h, http.MethodPatch, "/v1/scene/entities/ghost", `{"x":7,"y":1}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodDelete, "/v1/scene/entities/baker", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodDelete, "/v1/scene/entities/baker", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSceneHandler_DeleteClearsAura(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewSceneHandler(f.scene, f.eng, f.logger)
	_, err := f.eng.AssignAura(ctx, "smith", "greetings", 30)
	require.NoError(t, err)
	_, err = f.eng.SetAuraEnabled(ctx, "smith", false)
	require.NoError(t, err)

	rr := do(t, h, http.MethodDelete, "/v1/scene/entities/smith", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	_, ok := f.eng.Aura("smith")
	assert.False(t, ok)
	data, err := f.store.GetEntityFlag(ctx, "smith", dialogue.AuraFlagKey)
	require.NoError(t, err)
	assert.Nil(t, data)

	// placing a new smith and reloading brings nothing back
	rr = do(t, h, http.MethodPut, "/v1/scene/entities/smith", `{"name":"Smith"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	n, err := f.eng.LoadFromScene(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.eng.AssignAura(ctx, "guard", "greetings", 30)
	require.NoError(t, err)
	f.store.SetFlagWriteError(errors.New("connection reset"))
	rr = do(t, h, http.MethodDelete, "/v1/scene/entities/guard", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	_, ok = f.scene.Get("guard")
	assert.False(t, ok, "entity is removed either way")
}

type fakeLog struct {
	entries  []chatlog.Entry
	limit    int
	cleared  bool
	readFail error
}

func (l *fakeLog) Recent(ctx context.Context, limit int) ([]chatlog.Entry, error) {
	l.limit = limit
	return l.entries, l.readFail
}

func (l *fakeLog) Clear(ctx context.Context) error {
	l.cleared = true
	return nil
}

func TestLogHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fl := &fakeLog{entries: []chatlog.Entry{{SpeakerID: "guard", SpeakerName: "Guard", Text: "Hail!"}}}
	h := NewLogHandler(fl, logger)

	rr := do(t, h, http.MethodGet, "/v1/log?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, fl.limit)
	assert.Len(t, decode[[]chatlog.Entry](t, rr), 1)

	rr = do(t, h, http.MethodGet, "/v1/log", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 50, fl.limit)

	rr = do(t, h, http.MethodGet, "/v1/log?limit=lots", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodDelete, "/v1/log", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, fl.cleared)

	fl.readFail = errors.New("redis down")
	rr = do(t, h, http.MethodGet, "/v1/log", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func writeCorpus(dataDir, id, body string) error {
	dir := filepath.Join(dataDir, "corpora")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, id+".json"), []byte(body), 0o644)
}

func TestCorporaHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeCorpus(dir, "greetings", `{"name":"Greetings","entries":["Hail!","Well met."]}`))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewCorporaHandler(storage.NewFileCorpora(dir, logger), logger)

	rr := do(t, h, http.MethodGet, "/v1/corpora", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]corpus.Summary](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Entries)

	rr = do(t, h, http.MethodGet, "/v1/corpora/greetings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[CorpusDetail](t, rr)
	assert.Equal(t, "Greetings", detail.Name)
	assert.Equal(t, []string{"Hail!", "Well met."}, detail.Lines)

	rr = do(t, h, http.MethodGet, "/v1/corpora/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStageHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stage := dispatch.NewStage(time.Minute)
	h := NewStageHandler(stage, logger)

	rr := do(t, h, http.MethodGet, "/v1/stage", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())

	stage.Show(dispatch.Presentation{SpeakerID: "guard", Text: "Hail!"})
	rr = do(t, h, http.MethodGet, "/v1/stage", "")
	require.Equal(t, http.StatusOK, rr.Code)
	active := decode[[]dispatch.Presentation](t, rr)
	require.Len(t, active, 1)
	assert.Equal(t, "Hail!", active[0].Text)

	stage.Clear()
}
