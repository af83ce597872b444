package engine_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"portside/internal/config"
	"portside/internal/db"
	"portside/internal/engine"
	"portside/internal/flow"
	"portside/internal/migrate"
	"portside/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Platforms = []string{"tiktok"}
	eng := engine.New(conn, cfg, dir, zap.NewNop())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func tiktokArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("user_data.json")
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Write([]byte(`{
		"Activity": {
			"Video Browsing History": {
				"VideoList": [
					{"Date": "2023-05-01 10:00:00", "Link": "https://www.tiktokv.com/video/1"},
					{"Date": "2023-05-02 11:00:00", "Link": "https://www.tiktokv.com/video/2"}
				]
			},
			"Search History": {
				"SearchList": [
					{"Date": "2023-05-03 09:00:00", "SearchTerm": "cats"}
				]
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func lastPage(t *testing.T, cmds []flow.Command) *flow.Page {
	t.Helper()
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].Kind == flow.CommandRender {
			return cmds[i].Render
		}
	}
	t.Fatal("no render command in batch")
	return nil
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	s, cmds, err := env.Engine.StartSession(env.Ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if s.Status != "active" || s.State != string(flow.StatePromptFile) {
		t.Fatalf("unexpected session after start: %+v", s)
	}
	if page := lastPage(t, cmds); page.Kind != flow.PageFilePrompt {
		t.Fatalf("expected file prompt, got %s", page.Kind)
	}

	s, cmds, err = env.Engine.UploadArchive(env.Ctx, s.ID, "user_data.zip", tiktokArchive(t))
	if err != nil {
		t.Fatalf("upload archive: %v", err)
	}
	if s.State != string(flow.StateReviewConsent) {
		t.Fatalf("expected consent review, got %s", s.State)
	}
	page := lastPage(t, cmds)
	if page.Kind != flow.PageConsentForm || len(page.Tables) == 0 {
		t.Fatalf("expected populated consent form, got %+v", page)
	}

	s, cmds, err = env.Engine.Advance(env.Ctx, s.ID, flow.Response{Kind: flow.ResponseConsent})
	if err != nil {
		t.Fatalf("consent: %v", err)
	}
	if s.Status != "finished" || s.State != string(flow.StateDone) {
		t.Fatalf("expected finished session, got %+v", s)
	}
	if page := lastPage(t, cmds); page.Kind != flow.PageEnd {
		t.Fatalf("expected end page, got %s", page.Kind)
	}

	donations, err := env.Engine.ListDonations(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("list donations: %v", err)
	}
	var keys []string
	for _, d := range donations {
		keys = append(keys, d.Key)
	}
	joined := strings.Join(keys, " ")
	if !strings.Contains(joined, "TikTok_tiktok_video_browsing_history_0") {
		t.Fatalf("browsing history donation missing, got %v", keys)
	}
	if !strings.Contains(joined, "TikTok_tiktok_searches") {
		t.Fatalf("searches donation missing, got %v", keys)
	}
	if !strings.Contains(joined, s.ID+"-tracking") {
		t.Fatalf("session tracking donation missing, got %v", keys)
	}

	events, err := env.Engine.TailEvents(env.Ctx, 10, s.ID, "")
	if err != nil {
		t.Fatalf("tail events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	joined = strings.Join(types, " ")
	if !strings.Contains(joined, "session.exit") || !strings.Contains(joined, "session.status") {
		t.Fatalf("expected exit and status events, got %v", types)
	}

	if _, _, err := env.Engine.Advance(env.Ctx, s.ID, flow.Response{Kind: flow.ResponseNone}); !errors.Is(err, flow.ErrFinished) {
		t.Fatalf("expected ErrFinished, got %v", err)
	}
}

func TestSkipEndsSession(t *testing.T) {
	env := newTestEnv(t)
	s, _, err := env.Engine.StartSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	s, cmds, err := env.Engine.Advance(env.Ctx, s.ID, flow.Response{Kind: flow.ResponseNone})
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if s.Status != "finished" {
		t.Fatalf("expected finished, got %+v", s)
	}
	if page := lastPage(t, cmds); page.Kind != flow.PageEnd {
		t.Fatalf("expected end page, got %s", page.Kind)
	}
	donations, err := env.Engine.ListDonations(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range donations {
		if !strings.HasSuffix(d.Key, "-tracking") {
			t.Fatalf("expected only tracking donations, got %s", d.Key)
		}
	}
}

func TestBadArchivePromptsRetry(t *testing.T) {
	env := newTestEnv(t)
	s, _, err := env.Engine.StartSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	s, cmds, err := env.Engine.UploadArchive(env.Ctx, s.ID, "notes.zip", []byte("not a zip at all"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if s.State != string(flow.StateRetryConfirm) {
		t.Fatalf("expected retry confirm, got %s", s.State)
	}
	if page := lastPage(t, cmds); page.Kind != flow.PageConfirm {
		t.Fatalf("expected confirm page, got %s", page.Kind)
	}
	s, cmds, err = env.Engine.Advance(env.Ctx, s.ID, flow.Response{Kind: flow.ResponseConfirm})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.State != string(flow.StatePromptFile) {
		t.Fatalf("expected prompt after retry, got %s", s.State)
	}
	if page := lastPage(t, cmds); page.Kind != flow.PageFilePrompt {
		t.Fatalf("expected file prompt, got %s", page.Kind)
	}
}

func TestAdvanceUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.Advance(env.Ctx, "missing", flow.Response{Kind: flow.ResponseNone})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionNotResumableAcrossEngines(t *testing.T) {
	env := newTestEnv(t)
	s, _, err := env.Engine.StartSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	other := engine.New(env.Engine.DB, env.Engine.Config, env.Engine.Workspace, zap.NewNop())
	_, _, err = other.Advance(env.Ctx, s.ID, flow.Response{Kind: flow.ResponseNone})
	if !errors.Is(err, engine.ErrSessionNotLive) {
		t.Fatalf("expected ErrSessionNotLive, got %v", err)
	}
}
