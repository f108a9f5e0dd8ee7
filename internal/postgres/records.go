package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fintrack/internal/remote"
)

// execer は *sql.DB と *sql.Tx の共通部分
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type userStore struct {
	c      *Client
	userID string
}

var _ remote.Batcher = (*userStore)(nil)

func (s *userStore) FetchAll(ctx context.Context, c remote.Collection) ([]remote.Row, error) {
	rows, err := s.c.db.QueryContext(ctx,
		"SELECT doc FROM records WHERE user_id = $1 AND collection = $2 ORDER BY created_at",
		s.userID, string(c))
	if err != nil {
		return nil, fmt.Errorf("%s の取得に失敗: %w", c, err)
	}
	defer rows.Close()

	var out []remote.Row
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%s のスキャンに失敗: %w", c, err)
		}
		row, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s の取得に失敗: %w", c, err)
	}
	if c == remote.Transactions {
		remote.SortTransactionRows(out)
	}
	return out, nil
}

func (s *userStore) Insert(ctx context.Context, c remote.Collection, row remote.Row) (remote.Row, error) {
	return s.insert(ctx, s.c.db, c, remote.PrepareInsert(row, time.Now()))
}

func (s *userStore) insert(ctx context.Context, ex execer, c remote.Collection, row remote.Row) (remote.Row, error) {
	doc, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%s のエンコードに失敗: %w", c, err)
	}
	createdAt, _ := row["created_at"].(string)
	_, err = ex.ExecContext(ctx,
		"INSERT INTO records (user_id, collection, id, doc, created_at) VALUES ($1, $2, $3, $4, $5)",
		s.userID, string(c), row.ID(), doc, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%s の保存に失敗: %w", c, err)
	}
	return row, nil
}

func (s *userStore) Update(ctx context.Context, c remote.Collection, id string, patch remote.Row) error {
	return s.update(ctx, s.c.db, c, id, patch)
}

func (s *userStore) update(ctx context.Context, ex execer, c remote.Collection, id string, patch remote.Row) error {
	doc, err := patchDoc(patch)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx,
		"UPDATE records SET doc = doc || $4::jsonb WHERE user_id = $1 AND collection = $2 AND id = $3",
		s.userID, string(c), id, doc)
	if err != nil {
		return fmt.Errorf("%s の更新に失敗: %w", c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s の更新件数取得に失敗: %w", c, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, remote.ErrNotFound)
	}
	return nil
}

func (s *userStore) Delete(ctx context.Context, c remote.Collection, id string) error {
	return s.delete(ctx, s.c.db, c, id)
}

func (s *userStore) delete(ctx context.Context, ex execer, c remote.Collection, id string) error {
	_, err := ex.ExecContext(ctx,
		"DELETE FROM records WHERE user_id = $1 AND collection = $2 AND id = $3",
		s.userID, string(c), id)
	if err != nil {
		return fmt.Errorf("%s の削除に失敗: %w", c, err)
	}
	return nil
}

// Apply は ops を1トランザクションで実行する
func (s *userStore) Apply(ctx context.Context, ops []remote.Op) (_ []remote.Row, err error) {
	tx, err := s.c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	results := make([]remote.Row, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case remote.OpInsert:
			results[i], err = s.insert(ctx, tx, op.Collection, remote.PrepareInsert(op.Row, now))
		case remote.OpUpdate:
			err = s.update(ctx, tx, op.Collection, op.ID, op.Row)
		case remote.OpDelete:
			err = s.delete(ctx, tx, op.Collection, op.ID)
		default:
			err = fmt.Errorf("unknown op kind %q", op.Kind)
		}
		if err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}
	return results, nil
}
