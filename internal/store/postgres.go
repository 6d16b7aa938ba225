package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"muse/api/internal/ideadoc"
	"muse/api/internal/ideapath"
	"muse/api/internal/marker"
)

// PostgresStore keeps threads and entries in two relational tables. Thread
// ids reuse the document path scheme so handles stay interchangeable with
// the file-backed store.
type PostgresStore struct {
	db   *sql.DB
	root string
	now  func() time.Time
}

func NewPostgresStore(db *sql.DB, ideasRoot string) *PostgresStore {
	return &PostgresStore{
		db:   db,
		root: ideasRoot,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (s *PostgresStore) Type() string { return "postgres" }

func (s *PostgresStore) ListThreads(ctx context.Context, filter ListFilter) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.created_at,
		       e.id, e.created_at, e.created_at_raw, e.content, e.is_ai
		FROM threads t
		LEFT JOIN entries e ON e.thread_id = t.id
		ORDER BY t.created_at, t.id, e.seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var (
		threads []Thread
		current *Thread
	)
	for rows.Next() {
		var (
			t       Thread
			entryID sql.NullString
			entryAt sql.NullTime
			raw     sql.NullString
			content sql.NullString
			isAI    sql.NullBool
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &entryID, &entryAt, &raw, &content, &isAI); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		if current == nil || current.ID != t.ID {
			threads = append(threads, t)
			current = &threads[len(threads)-1]
		}
		if entryID.Valid {
			current.Entries = append(current.Entries, ideadoc.Entry{
				ID:           entryID.String,
				CreatedAt:    entryAt.Time,
				CreatedAtRaw: raw.String,
				Content:      content.String,
				IsAI:         isAI.Bool,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	if filter.Query == "" {
		return threads, nil
	}
	filtered := make([]Thread, 0, len(threads))
	for _, t := range threads {
		if MatchesFilter(t, filter) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (Thread, error) {
	var t Thread
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM threads WHERE id=$1`, id,
	).Scan(&t.ID, &t.Title, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, created_at_raw, content, is_ai
		FROM entries WHERE thread_id=$1 ORDER BY seq
	`, id)
	if err != nil {
		return Thread{}, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e ideadoc.Entry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.CreatedAtRaw, &e.Content, &e.IsAI); err != nil {
			return Thread{}, fmt.Errorf("scan entry: %w", err)
		}
		t.Entries = append(t.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Thread{}, fmt.Errorf("iterate entries: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, in CreateThreadInput) (Thread, error) {
	now := s.now()
	id := ideapath.ForNewThread(s.root, in.Title, now)
	title := in.Title
	if title == "" {
		title = ideapath.Title(id)
	}

	entry := ideadoc.Entry{
		ID:           marker.NewID(),
		CreatedAt:    now,
		CreatedAtRaw: marker.FormatStamp(now),
		Content:      in.Content,
		IsAI:         in.IsAI,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Thread{}, fmt.Errorf("begin create thread: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO threads (id, title, created_at) VALUES ($1, $2, $3)`,
		id, title, now,
	); err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	if err := insertEntry(ctx, tx, id, 0, entry); err != nil {
		return Thread{}, err
	}
	if err := tx.Commit(); err != nil {
		return Thread{}, fmt.Errorf("commit create thread: %w", err)
	}

	return Thread{ID: id, Title: title, CreatedAt: now, Entries: []ideadoc.Entry{entry}}, nil
}

func (s *PostgresStore) AddEntry(ctx context.Context, in AddEntryInput) (ideadoc.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ideadoc.Entry{}, fmt.Errorf("begin add entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM threads WHERE id=$1)`, in.ThreadID,
	).Scan(&exists); err != nil {
		return ideadoc.Entry{}, fmt.Errorf("check thread: %w", err)
	}
	if !exists {
		return ideadoc.Entry{}, ErrNotFound
	}

	var seq int
	var last sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(created_at) FROM entries WHERE thread_id=$1`, in.ThreadID,
	).Scan(&seq, &last); err != nil {
		return ideadoc.Entry{}, fmt.Errorf("read entry tail: %w", err)
	}

	at := s.now()
	if last.Valid {
		at = AppendTime(last.Time, at)
	}
	entry := ideadoc.Entry{
		ID:           marker.NewID(),
		CreatedAt:    at,
		CreatedAtRaw: marker.FormatStamp(at),
		Content:      in.Content,
		IsAI:         in.IsAI,
	}
	if err := insertEntry(ctx, tx, in.ThreadID, seq, entry); err != nil {
		return ideadoc.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ideadoc.Entry{}, fmt.Errorf("commit add entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, entryID, content string) (ideadoc.Entry, error) {
	var e ideadoc.Entry
	err := s.db.QueryRowContext(ctx, `
		UPDATE entries SET content=$2 WHERE id=$1
		RETURNING id, created_at, created_at_raw, content, is_ai
	`, entryID, content).Scan(&e.ID, &e.CreatedAt, &e.CreatedAtRaw, &e.Content, &e.IsAI)
	if errors.Is(err, sql.ErrNoRows) {
		return ideadoc.Entry{}, ErrNotFound
	}
	if err != nil {
		return ideadoc.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, entryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var threadID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM entries WHERE id=$1 RETURNING thread_id`, entryID,
	).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	// A thread with no entries left is deleted with it.
	var remaining int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE thread_id=$1`, threadID,
	).Scan(&remaining); err != nil {
		return fmt.Errorf("count remaining entries: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id=$1`, threadID); err != nil {
			return fmt.Errorf("delete emptied thread: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteThread(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id=$1`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Sync is a no-op for the relational backend; rows are durable on commit.
func (s *PostgresStore) Sync(ctx context.Context) (SyncResult, error) {
	return SyncResult{}, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, threadID string, seq int, e ideadoc.Entry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, thread_id, seq, created_at, created_at_raw, content, is_ai)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, threadID, seq, e.CreatedAt, e.CreatedAtRaw, e.Content, e.IsAI); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}
