package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"portside/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(id,status,state,platform,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Status, s.State, nullable(s.Platform), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateSessionTx(ctx context.Context, tx *sql.Tx, id, status, state, platform, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, state=?, platform=?, updated_at=? WHERE id=?`,
		status, state, nullable(platform), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	var platform sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,status,state,platform,created_at,updated_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.Status, &s.State, &platform, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if platform.Valid {
		s.Platform = platform.String
	}
	return s, err
}

func (r Repo) ListSessions(ctx context.Context, status string, limit int) ([]domain.Session, error) {
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT id,status,state,platform,created_at,updated_at FROM sessions WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		var platform sql.NullString
		if err := rows.Scan(&s.ID, &s.Status, &s.State, &platform, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if platform.Valid {
			s.Platform = platform.String
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) InsertDonationTx(ctx context.Context, tx *sql.Tx, d domain.Donation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO donations(id,session_id,key,payload_json,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.SessionID, d.Key, d.Payload, d.CreatedAt)
	return err
}

func (r Repo) ListDonations(ctx context.Context, sessionID string) ([]domain.Donation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,session_id,key,payload_json,created_at FROM donations WHERE session_id=? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Donation
	for rows.Next() {
		var d domain.Donation
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Key, &d.Payload, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, sessionID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := `SELECT id,ts,type,COALESCE(session_id,''),COALESCE(platform,''),COALESCE(payload_json,'') FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.Platform, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(session_id,''),COALESCE(platform,''),COALESCE(payload_json,'') FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.Platform, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestEventID returns the most recent event ID in the stream.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
