// jobs は EventBridge Schedule から起動される Lambda
//
// イベント:
//
//	{"action": "backup", "userId": "..."}  ユーザーの取引をスプレッドシートに全件洗い替えする
//	{"action": "due", "userId": "..."}     今日支払日のサブスクリプションを返す
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/vmkteam/embedlog"

	"fintrack/internal/app"
	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/export"
	"fintrack/internal/gateway"
	"fintrack/internal/service"
	"fintrack/internal/sheets"
	"fintrack/internal/state"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := embedlog.NewLogger(cfg.LogVerbose, cfg.LogJSON)
	b, _, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "backend open failed", "err", err)
		os.Exit(1)
	}
	j := &jobs{
		backend: b,
		log:     logger,
		opts:    []service.Option{service.WithLocation(cfg.Location)},
		now:     time.Now,
		loc:     cfg.Location,
		sheets: func() (export.SheetWriter, error) {
			return sheets.NewClient(cfg.WIF, cfg.SpreadsheetID)
		},
	}
	lambda.Start(j.route)
}

type event struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

type jobs struct {
	backend app.Backend
	log     embedlog.Logger
	opts    []service.Option
	now     func() time.Time
	loc     *time.Location
	sheets  func() (export.SheetWriter, error)
}

// route は action で処理を振り分ける
func (j *jobs) route(ctx context.Context, raw json.RawMessage) (any, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("イベントの解析に失敗: %w", err)
	}
	if ev.UserID == "" {
		return nil, errors.New("userId は必須です")
	}

	switch ev.Action {
	case "backup":
		return j.backup(ctx, ev.UserID)
	case "due":
		return j.due(ctx, ev.UserID)
	}
	return nil, fmt.Errorf("unknown action %q", ev.Action)
}

// snapshot はユーザーの全コレクションを読み込む
func (j *jobs) snapshot(ctx context.Context, userID string) (*state.Snapshot, error) {
	st := service.NewStore(gateway.New(j.backend.ForUser(userID)), j.log, j.opts...)
	if err := st.Load(ctx); err != nil {
		return nil, err
	}
	return st.Snapshot(), nil
}

func (j *jobs) backup(ctx context.Context, userID string) (any, error) {
	snap, err := j.snapshot(ctx, userID)
	if err != nil {
		j.log.Error(ctx, "snapshot load failed", "user", userID, "err", err)
		return nil, err
	}
	w, err := j.sheets()
	if err != nil {
		j.log.Error(ctx, "sheets client failed", "err", err)
		return nil, err
	}
	n, err := export.SyncSheets(ctx, w, snap)
	if err != nil {
		j.log.Error(ctx, "sheets sync failed", "user", userID, "err", err)
		return nil, err
	}
	j.log.Print(ctx, "backup done", "user", userID, "transactions", n)
	return map[string]any{"status": "ok", "transactions": n}, nil
}

func (j *jobs) due(ctx context.Context, userID string) (any, error) {
	snap, err := j.snapshot(ctx, userID)
	if err != nil {
		j.log.Error(ctx, "snapshot load failed", "user", userID, "err", err)
		return nil, err
	}
	names := []string{}
	for _, s := range state.AllDue(snap.Subscriptions, j.now().In(j.loc)) {
		names = append(names, s.Name)
	}
	j.log.Print(ctx, "due subscriptions", "user", userID, "count", len(names))
	return map[string]any{"due": names}, nil
}
