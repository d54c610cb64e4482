package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lukasbals/scraty/domain"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store persists board entities in SQLite. Every mutation commits its own
// transaction; reads run outside transactions.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertStory persists a new story.
func (s *Store) InsertStory(ctx context.Context, story *domain.Story) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stories(id, title, position, created) VALUES(?,?,?,?)`,
		story.ID, story.Title, story.Position, story.Created.UnixNano(),
	)
	return err
}

// GetStory fetches a story by id, returning domain.ErrNotFound when no row
// matches.
func (s *Store) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, position, created FROM stories WHERE id = ?`, id)
	return scanStory(row)
}

// ListStories returns all stories in board order: position ascending,
// creation time breaking ties.
func (s *Store) ListStories(ctx context.Context) ([]domain.Story, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, position, created FROM stories ORDER BY position ASC, created ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stories := []domain.Story{}
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *story)
	}
	return stories, rows.Err()
}

// MutateStory loads the story, applies fn and writes the result back, all
// inside one transaction. Concurrent partial updates serialize on the
// transaction, so neither can clobber the other's committed fields.
func (s *Store) MutateStory(ctx context.Context, id string, fn func(*domain.Story) error) (*domain.Story, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, title, position, created FROM stories WHERE id = ?`, id)
	story, err := scanStory(row)
	if err != nil {
		return nil, err
	}
	if err := fn(story); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE stories SET title = ?, position = ? WHERE id = ?`,
		story.Title, story.Position, story.ID,
	)
	if err != nil {
		return nil, err
	}
	if err := mustAffect(res); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return story, nil
}

// DeleteStory removes a story and every task referencing it in one
// transaction, so a partial failure leaves no orphaned tasks.
func (s *Store) DeleteStory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE story_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := mustAffect(res); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertTask persists a new task.
func (s *Store) InsertTask(ctx context.Context, task *domain.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, text, user, story_id) VALUES(?,?,?,?)`,
		task.ID, task.Text, task.User, task.StoryID,
	)
	return err
}

// GetTask fetches a task by id, returning domain.ErrNotFound when no row
// matches.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, user, story_id FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasks returns tasks in store order, optionally filtered by story.
func (s *Store) ListTasks(ctx context.Context, storyID string) ([]domain.Task, error) {
	query := `SELECT id, text, user, story_id FROM tasks`
	args := []any{}
	if storyID != "" {
		query += ` WHERE story_id = ?`
		args = append(args, storyID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// MutateTask is the task counterpart of MutateStory.
func (s *Store) MutateTask(ctx context.Context, id string, fn func(*domain.Task) error) (*domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, text, user, story_id FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET text = ?, user = ?, story_id = ? WHERE id = ?`,
		task.Text, task.User, task.StoryID, task.ID,
	)
	if err != nil {
		return nil, err
	}
	if err := mustAffect(res); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a single task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

type rowScanner interface {
	Scan(dst ...any) error
}

func scanStory(row rowScanner) (*domain.Story, error) {
	var story domain.Story
	var created int64
	err := row.Scan(&story.ID, &story.Title, &story.Position, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	story.Created = time.Unix(0, created).UTC()
	return &story, nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	err := row.Scan(&task.ID, &task.Text, &task.User, &task.StoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
