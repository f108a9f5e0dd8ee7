package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fintrack/internal/remote"
)

// notifyPayload は notify_record_change() が送る JSON
type notifyPayload struct {
	UserID     string `json:"user_id"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         string `json:"op"`
}

// parseNotification はペイロードを変更通知にする（他ユーザー・不正なペイロードは false）
func parseNotification(payload, userID string) (remote.Change, bool) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return remote.Change{}, false
	}
	if p.UserID != userID || p.Collection == "" {
		return remote.Change{}, false
	}
	op := remote.OpKind(p.Op)
	switch op {
	case remote.OpInsert, remote.OpUpdate, remote.OpDelete:
	default:
		return remote.Change{}, false
	}
	return remote.Change{Collection: remote.Collection(p.Collection), Op: op, ID: p.ID}, true
}

func (s *userStore) Subscribe(ctx context.Context) (<-chan remote.Change, error) {
	l := pq.NewListener(s.c.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.c.log.Error(ctx, "listener event", "event", int(ev), "err", err)
		}
	})
	if err := l.Listen(notifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("LISTEN に失敗: %w", err)
	}

	ch := make(chan remote.Change, 16)
	go func() {
		defer close(ch)
		defer l.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-l.Notify:
				if !ok {
					return
				}
				var change remote.Change
				if n == nil {
					// 再接続。取りこぼした可能性があるので全体の再取得を促す
					change = remote.Change{Op: remote.OpUpdate}
				} else if change, ok = parseNotification(n.Extra, s.userID); !ok {
					continue
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
