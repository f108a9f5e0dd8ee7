// Package postgres は Postgres 上の remote.Store 実装。
// レコードは records テーブルに JSONB で保存し、変更は LISTEN/NOTIFY で配信する。
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/vmkteam/embedlog"

	"fintrack/internal/model"
	"fintrack/internal/remote"
)

// notifyChannel は records の変更を流す NOTIFY チャンネル
const notifyChannel = "record_changes"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	session_epoch INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	user_id    TEXT NOT NULL,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (user_id, collection, id)
);

CREATE OR REPLACE FUNCTION notify_record_change() RETURNS trigger AS $$
DECLARE
	r records%ROWTYPE;
BEGIN
	IF TG_OP = 'DELETE' THEN
		r := OLD;
	ELSE
		r := NEW;
	END IF;
	PERFORM pg_notify('record_changes', json_build_object(
		'user_id', r.user_id, 'collection', r.collection, 'id', r.id, 'op', TG_OP)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS records_notify ON records;
CREATE TRIGGER records_notify AFTER INSERT OR UPDATE OR DELETE ON records
	FOR EACH ROW EXECUTE FUNCTION notify_record_change();
`

// Client は Postgres クライアント
type Client struct {
	db  *sql.DB
	dsn string
	log embedlog.Logger
}

// Open は接続を開き、疎通を確認する
func Open(ctx context.Context, dsn string, log embedlog.Logger) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("DB のオープンに失敗: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB への接続に失敗: %w", err)
	}
	return &Client{db: db, dsn: dsn, log: log}, nil
}

// Close は接続を閉じる
func (c *Client) Close() error {
	return c.db.Close()
}

// Migrate はテーブルと NOTIFY トリガーを作成する（何度実行してもよい）
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return nil
}

// ForUser は userID にスコープされた remote.Store を返す
func (c *Client) ForUser(userID string) remote.Store {
	return &userStore{c: c, userID: userID}
}

// UserByEmail はメールアドレスでユーザーを取得する（nil = 未登録）
func (c *Client) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := c.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, session_epoch, created_at FROM users WHERE email = $1",
		strings.ToLower(email)).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.SessionEpoch, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user の取得に失敗: %w", err)
	}
	return &u, nil
}

// PutUser はユーザーを保存する（作成・更新兼用）
func (c *Client) PutUser(ctx context.Context, u *model.User) error {
	_, err := c.db.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, session_epoch, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email) DO UPDATE
SET password_hash = EXCLUDED.password_hash, session_epoch = EXCLUDED.session_epoch`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.SessionEpoch, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("user の保存に失敗: %w", err)
	}
	return nil
}

// decodeDoc は JSONB を行にする。数値は精度を保つため json.Number のまま残す
func decodeDoc(doc []byte) (remote.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var row remote.Row
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("doc のデコードに失敗: %w", err)
	}
	return row, nil
}

// patchDoc は id を除いた patch を JSON にする（doc || patch で部分更新する）
func patchDoc(patch remote.Row) ([]byte, error) {
	p := patch.Clone()
	delete(p, "id")
	if len(p) == 0 {
		return nil, errors.New("更新する項目がありません")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("patch のエンコードに失敗: %w", err)
	}
	return b, nil
}
