package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG stores rows in PostgreSQL tables created by migrations/001_core.sql.
type PG struct {
	pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

func (s *PG) Select(ctx context.Context, table string) ([]Row, error) {
	if _, err := Columns(table); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, data FROM %s ORDER BY created_at, id`, table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

// Upsert writes all rows in one transaction.
func (s *PG) Upsert(ctx context.Context, table string, rows ...Row) error {
	if len(rows) == 0 {
		return nil
	}
	cols, err := Columns(table)
	if err != nil {
		return err
	}
	query := upsertSQL(table, cols)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query, upsertArgs(r, cols)...)
	}
	br := tx.SendBatch(ctx, batch)
	for _, r := range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert %s/%s: %w", table, r.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return tx.Commit(ctx)
}

func (s *PG) Delete(ctx context.Context, table, id string) error {
	if _, err := Columns(table); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

func upsertSQL(table string, cols []string) string {
	names := append([]string{"id", "data"}, cols...)
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(names))
	for _, n := range names[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", n, n))
	}
	sets = append(sets, "updated_at = NOW()")

	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
}

// upsertArgs orders the row values after the column list. Empty columns are
// stored as NULL.
func upsertArgs(r Row, cols []string) []interface{} {
	args := make([]interface{}, 0, len(cols)+2)
	args = append(args, r.ID, []byte(r.Data))
	for _, c := range cols {
		if v := r.Columns[c]; v != "" {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	return args
}
