package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUserByExternalID upserts the user record for an identity header.
// Email and display name are filled in when first seen and left alone after.
func (s *PostgresStore) EnsureUserByExternalID(ctx context.Context, externalID, email, displayName, userID string) (User, error) {
	const query = `
		INSERT INTO users (id, external_id, email, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, external_id, email, display_name, photo_url, created_at, updated_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID, externalID, email, displayName).Scan(
		&user.ID,
		&user.ExternalID,
		&user.Email,
		&user.DisplayName,
		&user.PhotoURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListParentRoutines(ctx context.Context, userID string) ([]ParentRoutine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, category, description, streak, created_at, updated_at
		FROM parent_routines
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list parent routines: %w", err)
	}
	defer rows.Close()

	items := make([]ParentRoutine, 0)
	for rows.Next() {
		var item ParentRoutine
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Category, &item.Description, &item.Streak, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan parent routine: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parent routines: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetParentRoutine(ctx context.Context, userID, id string) (ParentRoutine, error) {
	var item ParentRoutine
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, category, description, streak, created_at, updated_at
		FROM parent_routines
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&item.ID, &item.UserID, &item.Title, &item.Category, &item.Description, &item.Streak, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return ParentRoutine{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertParentRoutine(ctx context.Context, item ParentRoutine) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parent_routines (id, user_id, title, category, description)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.UserID, item.Title, item.Category, item.Description)
	if err != nil {
		return fmt.Errorf("insert parent routine: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateParentRoutine(ctx context.Context, item ParentRoutine) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE parent_routines
		SET title=$3, category=$4, description=$5, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
	`, item.ID, item.UserID, item.Title, item.Category, item.Description)
	if err != nil {
		return fmt.Errorf("update parent routine: %w", err)
	}
	return requireRow(result)
}

// DeleteParentRoutine cascades to sub-routines, routines, and logs in a
// single transaction so a crash cannot leave orphaned children.
func (s *PostgresStore) DeleteParentRoutine(ctx context.Context, userID, id string) error {
	return s.inCascadeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM routine_logs WHERE parent_id=$1 AND user_id=$2`, id, userID); err != nil {
			return fmt.Errorf("delete parent logs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM routines WHERE parent_id=$1 AND user_id=$2`, id, userID); err != nil {
			return fmt.Errorf("delete parent routines: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sub_routines WHERE parent_id=$1 AND user_id=$2`, id, userID); err != nil {
			return fmt.Errorf("delete parent sub-routines: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM parent_routines WHERE id=$1 AND user_id=$2`, id, userID)
		if err != nil {
			return fmt.Errorf("delete parent routine: %w", err)
		}
		return requireRow(result)
	})
}

func (s *PostgresStore) ListSubRoutines(ctx context.Context, userID string) ([]SubRoutine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, parent_id, title, category, created_at, updated_at
		FROM sub_routines
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sub-routines: %w", err)
	}
	defer rows.Close()

	items := make([]SubRoutine, 0)
	for rows.Next() {
		var item SubRoutine
		if err := rows.Scan(&item.ID, &item.UserID, &item.ParentID, &item.Title, &item.Category, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sub-routine: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-routines: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSubRoutine(ctx context.Context, userID, id string) (SubRoutine, error) {
	var item SubRoutine
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, parent_id, title, category, created_at, updated_at
		FROM sub_routines
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&item.ID, &item.UserID, &item.ParentID, &item.Title, &item.Category, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return SubRoutine{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSubRoutine(ctx context.Context, item SubRoutine) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_routines (id, user_id, parent_id, title, category)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.UserID, item.ParentID, item.Title, item.Category)
	if err != nil {
		return fmt.Errorf("insert sub-routine: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSubRoutine(ctx context.Context, item SubRoutine) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sub_routines
		SET title=$3, category=$4, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
	`, item.ID, item.UserID, item.Title, item.Category)
	if err != nil {
		return fmt.Errorf("update sub-routine: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteSubRoutine(ctx context.Context, userID, id string) error {
	return s.inCascadeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM routine_logs WHERE sub_routine_id=$1 AND user_id=$2`, id, userID); err != nil {
			return fmt.Errorf("delete sub-routine logs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM routines WHERE sub_routine_id=$1 AND user_id=$2`, id, userID); err != nil {
			return fmt.Errorf("delete sub-routine routines: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM sub_routines WHERE id=$1 AND user_id=$2`, id, userID)
		if err != nil {
			return fmt.Errorf("delete sub-routine: %w", err)
		}
		return requireRow(result)
	})
}

func (s *PostgresStore) ListRoutines(ctx context.Context, userID string) ([]Routine, error) {
	return s.queryRoutines(ctx, `
		SELECT id, user_id, parent_id, sub_routine_id, title, description, category, type, input_config, created_at, updated_at
		FROM routines
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
}

func (s *PostgresStore) ListRoutinesBySubRoutine(ctx context.Context, userID, subID string) ([]Routine, error) {
	return s.queryRoutines(ctx, `
		SELECT id, user_id, parent_id, sub_routine_id, title, description, category, type, input_config, created_at, updated_at
		FROM routines
		WHERE user_id = $1 AND sub_routine_id = $2
		ORDER BY created_at
	`, userID, subID)
}

func (s *PostgresStore) queryRoutines(ctx context.Context, query string, args ...any) ([]Routine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}
	defer rows.Close()

	items := make([]Routine, 0)
	for rows.Next() {
		item, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routines: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (Routine, error) {
	var item Routine
	var rawConfig []byte
	err := row.Scan(&item.ID, &item.UserID, &item.ParentID, &item.SubRoutineID, &item.Title, &item.Description, &item.Category, &item.Type, &rawConfig, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Routine{}, err
	}
	if len(rawConfig) > 0 {
		var cfg InputConfig
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return Routine{}, fmt.Errorf("decode input config: %w", err)
		}
		item.InputConfig = &cfg
	}
	return item, nil
}

func (s *PostgresStore) GetRoutine(ctx context.Context, userID, id string) (Routine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, parent_id, sub_routine_id, title, description, category, type, input_config, created_at, updated_at
		FROM routines
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	return scanRoutine(row)
}

func (s *PostgresStore) InsertRoutine(ctx context.Context, item Routine) error {
	rawConfig, err := encodeInputConfig(item.InputConfig)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routines (id, user_id, parent_id, sub_routine_id, title, description, category, type, input_config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.UserID, item.ParentID, item.SubRoutineID, item.Title, item.Description, item.Category, item.Type, rawConfig)
	if err != nil {
		return fmt.Errorf("insert routine: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoutine(ctx context.Context, item Routine) error {
	rawConfig, err := encodeInputConfig(item.InputConfig)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE routines
		SET title=$3, description=$4, category=$5, type=$6, input_config=$7, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
	`, item.ID, item.UserID, item.Title, item.Description, item.Category, item.Type, rawConfig)
	if err != nil {
		return fmt.Errorf("update routine: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteRoutine(ctx context.Context, userID, id string) error {
	return s.inCascadeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM routine_logs WHERE routine_id=$1 AND user_id=$2`, id, userID); err != nil {
			return fmt.Errorf("delete routine logs: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM routines WHERE id=$1 AND user_id=$2`, id, userID)
		if err != nil {
			return fmt.Errorf("delete routine: %w", err)
		}
		return requireRow(result)
	})
}

func encodeInputConfig(cfg *InputConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode input config: %w", err)
	}
	return raw, nil
}

func (s *PostgresStore) InsertRoutineLog(ctx context.Context, entry RoutineLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routine_logs (id, user_id, parent_id, sub_routine_id, routine_id, action, value, date_key, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.UserID, entry.ParentID, entry.SubRoutineID, entry.RoutineID, entry.Action, entry.Value, entry.DateKey, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert routine log: %w", err)
	}
	return nil
}

const logEntrySelect = `
	SELECT l.id, l.user_id, l.parent_id, l.sub_routine_id, l.routine_id, l.action, l.value, l.date_key, l.ts,
		COALESCE(r.title, ''), COALESCE(r.category, ''), COALESCE(r.description, ''),
		COALESCE(sr.title, ''), COALESCE(sr.category, ''),
		COALESCE(p.title, ''), COALESCE(p.category, '')
	FROM routine_logs l
	LEFT JOIN routines r ON r.id = l.routine_id
	LEFT JOIN sub_routines sr ON sr.id = l.sub_routine_id
	LEFT JOIN parent_routines p ON p.id = l.parent_id
`

func (s *PostgresStore) ListLogsByDate(ctx context.Context, userID, dateKey string) ([]LogEntry, error) {
	return s.queryLogs(ctx, logEntrySelect+`
		WHERE l.user_id = $1 AND l.date_key = $2
		ORDER BY l.ts DESC
	`, userID, dateKey)
}

func (s *PostgresStore) ListAllLogs(ctx context.Context, userID string) ([]LogEntry, error) {
	return s.queryLogs(ctx, logEntrySelect+`
		WHERE l.user_id = $1
		ORDER BY l.ts DESC
	`, userID)
}

func (s *PostgresStore) queryLogs(ctx context.Context, query string, args ...any) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list routine logs: %w", err)
	}
	defer rows.Close()

	items := make([]LogEntry, 0)
	for rows.Next() {
		var item LogEntry
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.ParentID, &item.SubRoutineID, &item.RoutineID,
			&item.Action, &item.Value, &item.DateKey, &item.Timestamp,
			&item.RoutineTitle, &item.RoutineCategory, &item.RoutineDescription,
			&item.SubRoutineTitle, &item.SubRoutineCategory,
			&item.ParentTitle, &item.ParentCategory,
		); err != nil {
			return nil, fmt.Errorf("scan routine log: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routine logs: %w", err)
	}
	return items, nil
}

// CompletionCounts returns done/total log counts grouped by parent id,
// across all-time logs. Parents with no logs are simply absent.
func (s *PostgresStore) CompletionCounts(ctx context.Context, userID string) (map[string]CompletionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_id,
			COUNT(*) FILTER (WHERE action = 'done'),
			COUNT(*)
		FROM routine_logs
		WHERE user_id = $1
		GROUP BY parent_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("completion counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]CompletionCount)
	for rows.Next() {
		var parentID string
		var c CompletionCount
		if err := rows.Scan(&parentID, &c.Done, &c.Total); err != nil {
			return nil, fmt.Errorf("scan completion count: %w", err)
		}
		counts[parentID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion counts: %w", err)
	}
	return counts, nil
}

type CompletionCount struct {
	Done  int
	Total int
}

// inCascadeTx runs fn in a transaction with the routine_logs delete guard
// lifted for the duration of that transaction only.
func (s *PostgresStore) inCascadeTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cascade tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('routin0.cascade', 'on', true)`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("enable cascade: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cascade tx: %w", err)
	}
	return nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
