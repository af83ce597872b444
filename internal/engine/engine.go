package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portside/internal/config"
	"portside/internal/db"
	"portside/internal/domain"
	"portside/internal/events"
	"portside/internal/extract"
	"portside/internal/flow"
	"portside/internal/metrics"
	"portside/internal/repo"
)

// ErrSessionNotLive is returned when a session row exists but its flow is no
// longer resident, for example after a restart. Flows carry suspended dialogue
// state that is not persisted; such sessions cannot be advanced.
var ErrSessionNotLive = errors.New("session not resumable")

// Engine owns the live flows and persists their command streams. Donations
// and events are written in the same transaction that records the session's
// new state, so a crash never leaves a donation without its transition.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Log       *zap.Logger
	Workspace string
	Now       func() time.Time

	mu    sync.Mutex
	flows map[string]*flow.Flow
}

func New(database *sql.DB, cfg *config.Config, workspace string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		DB:        database,
		Repo:      repo.Repo{DB: database},
		Events:    events.Writer{DB: database},
		Config:    cfg,
		Log:       log,
		Workspace: workspace,
		Now:       time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) platforms() []extract.Platform {
	settings := extract.Settings{
		ChunkSize:      e.Config.Donation.ChunkSize,
		MatchThreshold: e.Config.Donation.MatchThreshold,
	}
	var res []extract.Platform
	for _, name := range e.Config.Platforms {
		switch name {
		case "youtube":
			res = append(res, extract.YouTube(e.Log, settings))
		case "tiktok":
			res = append(res, extract.TikTok(e.Log, settings))
		}
	}
	return res
}

// StartSession creates a session row, spins up its flow and persists the
// opening commands.
func (e *Engine) StartSession(ctx context.Context) (domain.Session, []flow.Command, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	now := e.now().UTC().Format(time.RFC3339)
	f := flow.New(id, e.platforms(), e.Log)
	s := domain.Session{
		ID:        id,
		Status:    "active",
		State:     string(f.State()),
		Platform:  f.PlatformName(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertSession(ctx, s); err != nil {
		return domain.Session{}, nil, fmt.Errorf("insert session: %w", err)
	}
	cmds := f.Start()
	s, err := e.persist(ctx, s.ID, f, cmds)
	if err != nil {
		return domain.Session{}, nil, err
	}
	if s.Status == "active" {
		if e.flows == nil {
			e.flows = map[string]*flow.Flow{}
		}
		e.flows[id] = f
	}
	metrics.SessionsStarted.Inc()
	return s, cmds, nil
}

// Advance feeds the host response to the session's flow and persists the
// resulting commands.
func (e *Engine) Advance(ctx context.Context, sessionID string, resp flow.Response) (domain.Session, []flow.Command, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked(ctx, sessionID, resp)
}

func (e *Engine) advanceLocked(ctx context.Context, sessionID string, resp flow.Response) (domain.Session, []flow.Command, error) {
	f, ok := e.flows[sessionID]
	if !ok {
		s, err := e.Repo.GetSession(ctx, sessionID)
		if err != nil {
			return domain.Session{}, nil, err
		}
		if s.Status == "finished" {
			return s, nil, flow.ErrFinished
		}
		return s, nil, ErrSessionNotLive
	}
	cmds, err := f.Advance(resp)
	if err != nil {
		return domain.Session{}, nil, err
	}
	s, err := e.persist(ctx, sessionID, f, cmds)
	if err != nil {
		return domain.Session{}, nil, err
	}
	if s.Status == "finished" {
		delete(e.flows, sessionID)
	}
	return s, cmds, nil
}

// UploadArchive stores the uploaded bytes in the workspace and advances the
// session with a file response pointing at the stored copy.
func (e *Engine) UploadArchive(ctx context.Context, sessionID, filename string, data []byte) (domain.Session, []flow.Command, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dir, err := db.UploadDir(e.Workspace)
	if err != nil {
		return domain.Session{}, nil, err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload.zip"
	}
	path := filepath.Join(dir, sessionID+"-"+name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return domain.Session{}, nil, fmt.Errorf("store archive: %w", err)
	}
	s, cmds, err := e.advanceLocked(ctx, sessionID, flow.Response{Kind: flow.ResponseFile, Value: path})
	if err == nil && s.State == string(flow.StateRetryConfirm) {
		metrics.ArchivesRejected.Inc()
	}
	return s, cmds, err
}

// persist writes a command batch and the session's new state in one
// transaction.
func (e *Engine) persist(ctx context.Context, sessionID string, f *flow.Flow, cmds []flow.Command) (domain.Session, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	status := "active"
	donations := 0
	for _, cmd := range cmds {
		switch cmd.Kind {
		case flow.CommandDonate:
			d := domain.Donation{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Key:       cmd.Donate.Key,
				Payload:   string(cmd.Donate.Payload),
				CreatedAt: now,
			}
			if err := e.Repo.InsertDonationTx(ctx, tx, d); err != nil {
				return domain.Session{}, fmt.Errorf("insert donation %s: %w", d.Key, err)
			}
			donations++
		case flow.CommandStatus:
			// events are best-effort observability; a failed append never
			// stops the session
			err := e.Events.Append(ctx, tx, "session.status", sessionID, f.PlatformName(), events.EventPayload{
				"key":     cmd.Status.Key,
				"message": cmd.Status.Message,
			})
			if err != nil {
				e.Log.Error("append status event failed", zap.String("session", sessionID), zap.Error(err))
			}
		case flow.CommandExit:
			status = "finished"
			err := e.Events.Append(ctx, tx, "session.exit", sessionID, "", events.EventPayload{
				"code": cmd.Exit.Code,
				"info": cmd.Exit.Info,
			})
			if err != nil {
				e.Log.Error("append exit event failed", zap.String("session", sessionID), zap.Error(err))
			}
		}
	}
	s := domain.Session{
		ID:        sessionID,
		Status:    status,
		State:     string(f.State()),
		Platform:  f.PlatformName(),
		UpdatedAt: now,
	}
	if err := e.Repo.UpdateSessionTx(ctx, tx, s.ID, s.Status, s.State, s.Platform, s.UpdatedAt); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	metrics.DonationsStored.Add(float64(donations))
	if status == "finished" {
		metrics.SessionsFinished.Inc()
	}
	stored, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return s, nil
	}
	return stored, nil
}

// GetSession returns the persisted view of a session.
func (e *Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return e.Repo.GetSession(ctx, id)
}

// ListSessions returns sessions, optionally filtered by status.
func (e *Engine) ListSessions(ctx context.Context, status string, limit int) ([]domain.Session, error) {
	return e.Repo.ListSessions(ctx, status, limit)
}

// ListDonations returns the payloads persisted for a session so far.
func (e *Engine) ListDonations(ctx context.Context, sessionID string) ([]domain.Donation, error) {
	if _, err := e.Repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.Repo.ListDonations(ctx, sessionID)
}

// TailEvents returns the most recent events, newest first.
func (e *Engine) TailEvents(ctx context.Context, limit int, sessionID, evtType string) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, sessionID, evtType)
}
