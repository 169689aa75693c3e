package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			list_id TEXT NOT NULL,
			title TEXT NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			position INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_list_open_position ON tasks (list_id, completed, position);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const taskColumns = `id, list_id, title, completed, position, created_at, updated_at`

func (s *PostgresStore) List(ctx context.Context, listID string) ([]Task, error) {
	return s.listOpen(ctx, s.pool, listID)
}

func (s *PostgresStore) Get(ctx context.Context, listID, id string) (Task, error) {
	return s.get(ctx, s.pool, listID, id, false)
}

func (s *PostgresStore) Create(ctx context.Context, listID, title string) (Task, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return Task{}, err
	}
	now := s.now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, list_id, title, completed, position, created_at, updated_at)
		 SELECT $1, $2, $3, FALSE, COALESCE(MAX(position), 0) + 1, $4, $4
		   FROM tasks WHERE list_id=$2 AND completed=FALSE
		 RETURNING `+taskColumns,
		uuid.NewString(), listID, title, now,
	)
	task, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) Update(ctx context.Context, listID, id string, patch Patch) (Task, error) {
	if patch.Title != nil {
		title, err := normalizeTitle(*patch.Title)
		if err != nil {
			return Task{}, err
		}
		patch.Title = &title
	}

	var out Task
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := s.get(ctx, tx, listID, id, true)
		if err != nil {
			return err
		}
		next := current
		if patch.Title != nil {
			next.Title = *patch.Title
		}
		if patch.Completed != nil && *patch.Completed != current.Completed {
			next.Completed = *patch.Completed
			if next.Completed {
				next.Position = 0
			} else {
				var maxPos int
				if err := tx.QueryRow(ctx,
					`SELECT COALESCE(MAX(position), 0) FROM tasks WHERE list_id=$1 AND completed=FALSE`,
					listID,
				).Scan(&maxPos); err != nil {
					return fmt.Errorf("read max position: %w", err)
				}
				next.Position = maxPos + 1
			}
		}
		next.UpdatedAt = s.now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET title=$3, completed=$4, position=$5, updated_at=$6 WHERE list_id=$1 AND id=$2`,
			listID, id, next.Title, next.Completed, next.Position, next.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if next.Completed != current.Completed {
			if err := renumberOpen(ctx, tx, listID); err != nil {
				return err
			}
		}
		out, err = s.get(ctx, tx, listID, id, false)
		return err
	})
	return out, err
}

func (s *PostgresStore) Delete(ctx context.Context, listID, id string) (Task, error) {
	var out Task
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`DELETE FROM tasks WHERE list_id=$1 AND id=$2 RETURNING `+taskColumns,
			listID, id,
		)
		task, err := scanTask(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		out = task
		return renumberOpen(ctx, tx, listID)
	})
	return out, err
}

func (s *PostgresStore) Move(ctx context.Context, listID, id string, position int) (Task, int, error) {
	var (
		out      Task
		previous int
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := s.get(ctx, tx, listID, id, true)
		if err != nil {
			return err
		}
		previous = current.Position
		if current.Completed {
			out = current
			return nil
		}
		open, err := s.listOpen(ctx, tx, listID)
		if err != nil {
			return err
		}
		position = clampPosition(position, len(open))
		ids := make([]string, 0, len(open))
		for _, t := range open {
			if t.ID != id {
				ids = append(ids, t.ID)
			}
		}
		ids = append(ids[:position-1], append([]string{id}, ids[position-1:]...)...)
		now := s.now().UTC()
		for i, taskID := range ids {
			if _, err := tx.Exec(ctx,
				`UPDATE tasks SET position=$3, updated_at=$4 WHERE list_id=$1 AND id=$2 AND position<>$3`,
				listID, taskID, i+1, now,
			); err != nil {
				return fmt.Errorf("move task: %w", err)
			}
		}
		out, err = s.get(ctx, tx, listID, id, false)
		return err
	})
	return out, previous, err
}

func (s *PostgresStore) CountOpen(ctx context.Context, listID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE list_id=$1 AND completed=FALSE`, listID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ClearOpen(ctx context.Context, listID string) ([]Task, error) {
	var out []Task
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		open, err := s.listOpen(ctx, tx, listID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE list_id=$1 AND completed=FALSE`, listID); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		out = open
		return nil
	})
	return out, err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) get(ctx context.Context, q querier, listID, id string, forUpdate bool) (Task, error) {
	sql := `SELECT ` + taskColumns + ` FROM tasks WHERE list_id=$1 AND id=$2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	task, err := scanTask(q.QueryRow(ctx, sql, listID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) listOpen(ctx context.Context, q querier, listID string) ([]Task, error) {
	rows, err := q.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE list_id=$1 AND completed=FALSE ORDER BY position ASC, created_at ASC`,
		listID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 8)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func renumberOpen(ctx context.Context, tx pgx.Tx, listID string) error {
	_, err := tx.Exec(ctx,
		`WITH ordered AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY position ASC, created_at ASC) AS rn
			  FROM tasks WHERE list_id=$1 AND completed=FALSE
		)
		UPDATE tasks SET position=ordered.rn
		  FROM ordered
		 WHERE tasks.id=ordered.id AND tasks.position<>ordered.rn`,
		listID,
	)
	if err != nil {
		return fmt.Errorf("renumber tasks: %w", err)
	}
	return nil
}

// scanTask reads one row; pgx.Rows satisfies pgx.Row.
func scanTask(row pgx.Row) (Task, error) {
	var task Task
	if err := row.Scan(
		&task.ID,
		&task.ListID,
		&task.Title,
		&task.Completed,
		&task.Position,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	return task, nil
}
