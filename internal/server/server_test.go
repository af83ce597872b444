package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"portside/internal/config"
	"portside/internal/db"
	"portside/internal/engine"
	"portside/internal/flow"
	"portside/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Platforms = []string{"tiktok"}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, workspace, zap.NewNop())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func tiktokArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("user_data.json")
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Write([]byte(`{"Activity":{"Video Browsing History":{"VideoList":[{"Date":"2023-05-01 10:00:00","Link":"https://www.tiktokv.com/video/1"}]}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSessionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start session status %d: %s", res.StatusCode, string(data))
	}
	var started StartSessionResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal start: %v", err)
	}
	if started.Session.State != string(flow.StatePromptFile) {
		t.Fatalf("expected file prompt state, got %s", started.Session.State)
	}
	if len(started.Commands) == 0 {
		t.Fatalf("expected opening commands")
	}

	sessionID := started.Session.ID
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/sessions/"+sessionID+"/archive?filename=user_data.zip", bytes.NewReader(tiktokArchive(t)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	upRes, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	upData, _ := io.ReadAll(upRes.Body)
	upRes.Body.Close()
	if upRes.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d: %s", upRes.StatusCode, string(upData))
	}
	var uploaded AdvanceResponse
	if err := json.Unmarshal(upData, &uploaded); err != nil {
		t.Fatalf("unmarshal upload: %v", err)
	}
	if uploaded.Session.State != string(flow.StateReviewConsent) {
		t.Fatalf("expected consent review, got %s", uploaded.Session.State)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+sessionID+"/advance", map[string]any{
		"kind": "consent",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("consent status %d: %s", res.StatusCode, string(data))
	}
	var advanced AdvanceResponse
	if err := json.Unmarshal(data, &advanced); err != nil {
		t.Fatalf("unmarshal advance: %v", err)
	}
	if advanced.Session.Status != "finished" {
		t.Fatalf("expected finished session, got %+v", advanced.Session)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+sessionID+"/donations", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("donations status %d: %s", res.StatusCode, string(data))
	}
	var donations []DonationResponse
	if err := json.Unmarshal(data, &donations); err != nil {
		t.Fatalf("unmarshal donations: %v", err)
	}
	if len(donations) == 0 {
		t.Fatalf("expected stored donations")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?session_id="+sessionID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected events in stream")
	}
}

func TestAdvanceFinishedSessionConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start session: %d %s", res.StatusCode, string(data))
	}
	var started StartSessionResponse
	_ = json.Unmarshal(data, &started)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+started.Session.ID+"/advance", map[string]any{"kind": "none"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("skip: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+started.Session.ID+"/advance", map[string]any{"kind": "none"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnknownSessionNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestSessionTokenScoping(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{Secret: "topsecret", TTL: time.Hour})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start session: %d %s", res.StatusCode, string(data))
	}
	var first StartSessionResponse
	_ = json.Unmarshal(data, &first)
	if first.Token == "" {
		t.Fatalf("expected a session token")
	}

	// no token
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+first.Session.ID, nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.StatusCode)
	}

	// own token
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+first.Session.ID, nil, map[string]string{
		"Authorization": "Bearer " + first.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", res.StatusCode, string(data))
	}

	// another session's token
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start second session: %d %s", res.StatusCode, string(data))
	}
	var second StartSessionResponse
	_ = json.Unmarshal(data, &second)
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+first.Session.ID, nil, map[string]string{
		"Authorization": "Bearer " + second.Token,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with foreign token, got %d", res.StatusCode)
	}
}
