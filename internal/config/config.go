// Package config は環境変数から設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/auth"
)

// Backend の種類
const (
	BackendMemory   = "memory"
	BackendDynamo   = "dynamo"
	BackendPostgres = "postgres"
)

// memory バックエンドで AUTH_SECRET 未設定のときの署名鍵（プロセス内でしか使わない）
const devSecret = "fintrack-dev-secret"

// Config はアプリケーション設定
type Config struct {
	Backend string

	AWSRegion    string
	RecordTable  string
	MasterTable  string
	StreamPoll   time.Duration
	DatabaseURL  string
	AuthSecret   string
	SessionTTL   time.Duration
	GoogleClient string
	Location     *time.Location

	LogVerbose  bool
	LogJSON     bool
	MetricsAddr string

	SpreadsheetID string
	WIF           auth.WIFConfig
}

// Load は環境変数から Config を読み込む
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom は getenv から Config を読み込む。不足・不正な値はまとめてエラーにする
func LoadFrom(getenv func(string) string) (*Config, error) {
	var problems []string
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	require := func(key string) string {
		v := get(key, "")
		if v == "" {
			problems = append(problems, key+" が設定されていません")
		}
		return v
	}
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(get(key, def))
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("%s が不正です: %q", key, get(key, def)))
			return 0
		}
		return d
	}
	boolean := func(key string) bool {
		v := get(key, "false")
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s が不正です: %q", key, v))
		}
		return b
	}

	cfg := &Config{
		Backend:       get("FINTRACK_BACKEND", BackendMemory),
		AWSRegion:     get("AWS_REGION", "ap-northeast-1"),
		SessionTTL:    duration("SESSION_TTL", "720h"),
		StreamPoll:    duration("DYNAMO_STREAM_POLL", "2s"),
		GoogleClient:  get("GOOGLE_CLIENT_ID", ""),
		LogVerbose:    boolean("LOG_VERBOSE"),
		LogJSON:       boolean("LOG_JSON"),
		MetricsAddr:   get("METRICS_ADDR", ""),
		SpreadsheetID: get("SPREADSHEET_ID", ""),
		WIF: auth.WIFConfig{
			ProjectNumber:       get("GCP_PROJECT_NUMBER", ""),
			PoolID:              get("GCP_WIF_POOL_ID", ""),
			ProviderID:          get("GCP_WIF_PROVIDER_ID", ""),
			ServiceAccountEmail: get("GCP_SERVICE_ACCOUNT_EMAIL", ""),
		},
		Location: time.Local,
	}

	switch cfg.Backend {
	case BackendMemory:
		cfg.AuthSecret = get("AUTH_SECRET", devSecret)
	case BackendDynamo:
		cfg.RecordTable = require("DYNAMO_RECORD_TABLE")
		cfg.MasterTable = require("DYNAMO_MASTER_TABLE")
		cfg.AuthSecret = require("AUTH_SECRET")
	case BackendPostgres:
		cfg.DatabaseURL = require("DATABASE_URL")
		cfg.AuthSecret = require("AUTH_SECRET")
	default:
		problems = append(problems, fmt.Sprintf("FINTRACK_BACKEND が不正です: %q (memory, dynamo, postgres)", cfg.Backend))
	}

	if tz := get("FINTRACK_TZ", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			problems = append(problems, fmt.Sprintf("FINTRACK_TZ が不正です: %q", tz))
		} else {
			cfg.Location = loc
		}
	}

	if len(problems) > 0 {
		return nil, errors.New("設定エラー: " + strings.Join(problems, ", "))
	}
	return cfg, nil
}
