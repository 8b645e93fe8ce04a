package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"focusline/internal/domain"
)

// SQLiteStore implements Repository on top of a SQLite database. Timestamps
// are stored as unix milliseconds; structured fields are JSON columns.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func msOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMS(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *SQLiteStore) SaveActivity(ctx context.Context, a domain.Activity) error {
	var meta any
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO activities(id,kind,title,app_name,start_ms,end_ms,category,metadata_json) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, title=excluded.title, app_name=excluded.app_name,
		start_ms=excluded.start_ms, end_ms=excluded.end_ms, category=excluded.category, metadata_json=excluded.metadata_json`,
		a.ID, a.Kind, a.Title, a.AppName, a.StartTime.UnixMilli(), msOrNil(a.EndTime), nullable(a.Category), meta)
	if err != nil {
		return fmt.Errorf("save activity %s: %w", a.ID, err)
	}
	return nil
}

const activityCols = `id,kind,title,app_name,start_ms,end_ms,COALESCE(category,'') AS category,COALESCE(metadata_json,'') AS metadata_json`

func scanActivity(sc interface{ Scan(...any) error }) (domain.Activity, error) {
	var a domain.Activity
	var startMS int64
	var endMS sql.NullInt64
	var metaJSON string
	if err := sc.Scan(&a.ID, &a.Kind, &a.Title, &a.AppName, &startMS, &endMS, &a.Category, &metaJSON); err != nil {
		return a, err
	}
	a.StartTime = fromMS(startMS)
	if endMS.Valid {
		a.EndTime = fromMS(endMS.Int64)
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			return a, fmt.Errorf("decode metadata for %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func (s *SQLiteStore) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activities WHERE id=?`, id)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return domain.Activity{}, ErrNotFound
	}
	return a, err
}

func (s *SQLiteStore) queryActivities(ctx context.Context, query string, args ...any) ([]domain.Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) ActivitiesByTimeframe(ctx context.Context, start, end time.Time) ([]domain.Activity, error) {
	// An open activity spans from its start onward, so it intersects every
	// timeframe that ends after that start.
	return s.queryActivities(ctx, `SELECT `+activityCols+` FROM activities
		WHERE start_ms < ? AND (end_ms IS NULL OR end_ms > ?) ORDER BY start_ms, id`,
		end.UnixMilli(), start.UnixMilli())
}

func (s *SQLiteStore) ActivitiesByCategory(ctx context.Context, category string) ([]domain.Activity, error) {
	return s.queryActivities(ctx, `SELECT `+activityCols+` FROM activities
		WHERE category=? ORDER BY start_ms, id`, category)
}

func (s *SQLiteStore) ActivitiesBefore(ctx context.Context, cutoff time.Time) ([]domain.Activity, error) {
	return s.queryActivities(ctx, `SELECT `+activityCols+` FROM activities
		WHERE end_ms IS NOT NULL AND end_ms < ? ORDER BY start_ms, id`, cutoff.UnixMilli())
}

func (s *SQLiteStore) DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE end_ms IS NOT NULL AND end_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete activities: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess domain.Session) error {
	ids, err := json.Marshal(sess.ActivityIDs)
	if err != nil {
		return fmt.Errorf("encode activity ids: %w", err)
	}
	summary, err := json.Marshal(sess.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions(id,start_ms,end_ms,activity_ids_json,summary_json) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET start_ms=excluded.start_ms, end_ms=excluded.end_ms,
		activity_ids_json=excluded.activity_ids_json, summary_json=excluded.summary_json`,
		sess.ID, sess.StartTime.UnixMilli(), msOrNil(sess.EndTime), string(ids), string(summary))
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func scanSession(sc interface{ Scan(...any) error }) (domain.Session, error) {
	var sess domain.Session
	var startMS int64
	var endMS sql.NullInt64
	var idsJSON, summaryJSON string
	if err := sc.Scan(&sess.ID, &startMS, &endMS, &idsJSON, &summaryJSON); err != nil {
		return sess, err
	}
	sess.StartTime = fromMS(startMS)
	if endMS.Valid {
		sess.EndTime = fromMS(endMS.Int64)
	}
	if err := json.Unmarshal([]byte(idsJSON), &sess.ActivityIDs); err != nil {
		return sess, fmt.Errorf("decode activity ids for %s: %w", sess.ID, err)
	}
	if summaryJSON != "" {
		if err := json.Unmarshal([]byte(summaryJSON), &sess.Summary); err != nil {
			return sess, fmt.Errorf("decode summary for %s: %w", sess.ID, err)
		}
	}
	return sess, nil
}

const sessionCols = `id,start_ms,end_ms,activity_ids_json,COALESCE(summary_json,'') AS summary_json`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return domain.Session{}, ErrNotFound
	}
	return sess, err
}

func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionCols+` FROM sessions ORDER BY start_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) SaveSuggestion(ctx context.Context, sug domain.Suggestion) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO suggestions(id,rank,text,context,outcome,created_ms) VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET rank=excluded.rank, text=excluded.text, context=excluded.context,
		outcome=excluded.outcome, created_ms=excluded.created_ms`,
		sug.ID, sug.Rank, sug.Text, nullable(sug.Context), sug.Outcome, sug.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save suggestion %s: %w", sug.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error) {
	var sug domain.Suggestion
	var createdMS int64
	row := s.db.QueryRowContext(ctx, `SELECT id,rank,text,COALESCE(context,'') AS context,outcome,created_ms FROM suggestions WHERE id=?`, id)
	err := row.Scan(&sug.ID, &sug.Rank, &sug.Text, &sug.Context, &sug.Outcome, &createdMS)
	if err == sql.ErrNoRows {
		return domain.Suggestion{}, ErrNotFound
	}
	if err != nil {
		return domain.Suggestion{}, err
	}
	sug.CreatedAt = fromMS(createdMS)
	return sug, nil
}

func (s *SQLiteStore) SetSuggestionOutcome(ctx context.Context, id, outcome string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE suggestions SET outcome=? WHERE id=?`, outcome, id)
	if err != nil {
		return fmt.Errorf("set suggestion outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e domain.JournalEntry) (int64, error) {
	payload := e.Payload
	if payload == "" {
		payload = "{}"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO events(ts_ms,type,entity_id,payload_json) VALUES (?,?,?,?)`,
		e.TS.UnixMilli(), e.Type, nullable(e.EntityID), payload)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}

const eventCols = `id,ts_ms,type,COALESCE(entity_id,'') AS entity_id,payload_json`

func scanEvent(sc interface{ Scan(...any) error }) (domain.JournalEntry, error) {
	var e domain.JournalEntry
	var tsMS int64
	if err := sc.Scan(&e.ID, &tsMS, &e.Type, &e.EntityID, &e.Payload); err != nil {
		return e, err
	}
	e.TS = fromMS(tsMS)
	return e, nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *SQLiteStore) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.JournalEntry, error) {
	return s.queryEvents(ctx, `SELECT `+eventCols+` FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (s *SQLiteStore) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.JournalEntry, error) {
	if evtType != "" {
		return s.queryEvents(ctx, `SELECT `+eventCols+` FROM events WHERE type=? ORDER BY id DESC LIMIT ?`, evtType, limit)
	}
	return s.queryEvents(ctx, `SELECT `+eventCols+` FROM events ORDER BY id DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
