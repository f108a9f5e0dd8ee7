// Package backend は設定に応じたリモートバックエンドを開く。
package backend

import (
	"context"
	"fmt"

	"github.com/vmkteam/embedlog"

	"fintrack/internal/app"
	"fintrack/internal/config"
	"fintrack/internal/dynamo"
	"fintrack/internal/postgres"
	"fintrack/internal/remote"
)

// Open は cfg.Backend のバックエンドを開く。close は終了時に呼ぶ
func Open(ctx context.Context, cfg *config.Config, log embedlog.Logger) (b app.Backend, close func(), err error) {
	switch cfg.Backend {
	case config.BackendDynamo:
		c, err := dynamo.NewClient(ctx, dynamo.Config{
			Region:       cfg.AWSRegion,
			RecordTable:  cfg.RecordTable,
			MasterTable:  cfg.MasterTable,
			PollInterval: cfg.StreamPoll,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil

	case config.BackendPostgres:
		c, err := postgres.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		if err := c.Migrate(ctx); err != nil {
			c.Close()
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil

	case config.BackendMemory:
		return remote.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
