// Package app はサインイン状態と、ユーザーに紐づいた Store のライフサイクルを管理する。
package app

import (
	"context"
	"sync"
	"time"

	"github.com/vmkteam/embedlog"

	"fintrack/internal/apperror"
	"fintrack/internal/auth"
	"fintrack/internal/gateway"
	"fintrack/internal/remote"
	"fintrack/internal/service"
	"fintrack/internal/state"
)

// Backend はユーザー情報とユーザーごとのレコードを持つリモートバックエンド
type Backend interface {
	auth.CredentialStore
	ForUser(userID string) remote.Store
}

// App はセッションと Store を所有する
type App struct {
	backend   Backend
	auth      *auth.Provider
	log       embedlog.Logger
	storeOpts []service.Option
	sync      bool

	mu      sync.Mutex
	session *auth.Session
	store   *service.Store
	stop    context.CancelFunc
	done    chan struct{}
}

// Option は App の設定
type Option func(*App)

// WithStoreOptions は Store 生成時のオプションを指定する
func WithStoreOptions(opts ...service.Option) Option {
	return func(a *App) { a.storeOpts = append(a.storeOpts, opts...) }
}

// WithoutSync は変更通知による再取得を行わない（単発のコマンド用）
func WithoutSync() Option {
	return func(a *App) { a.sync = false }
}

// New は App を生成する
func New(backend Backend, provider *auth.Provider, log embedlog.Logger, opts ...Option) *App {
	a := &App{backend: backend, auth: provider, log: log, sync: true}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SignUp は新規登録してセッションを開始する
func (a *App) SignUp(ctx context.Context, email, password string) (*auth.Session, error) {
	s, err := a.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s, a.open(ctx, s)
}

// SignIn はパスワードでサインインしてセッションを開始する
func (a *App) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	s, err := a.auth.SignIn(ctx, email, password)
	if err != nil {
		a.log.Print(ctx, "sign-in rejected", "email", email)
		return nil, err
	}
	return s, a.open(ctx, s)
}

// SignInWithIDToken は Google ID Token でサインインしてセッションを開始する
func (a *App) SignInWithIDToken(ctx context.Context, token string) (*auth.Session, error) {
	s, err := a.auth.SignInWithIDToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s, a.open(ctx, s)
}

// Resume は保存済みトークンのセッションを再開する
func (a *App) Resume(ctx context.Context, token string) (*auth.Session, error) {
	s, err := a.auth.Session(ctx, token)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperror.Unauthorized("セッションが無効です。再度サインインしてください")
	}
	return s, a.open(ctx, s)
}

// SignOut は同期を止め、トークンを失効させ、スナップショットを空にする
func (a *App) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	a.stopSync()
	err := a.auth.SignOut(ctx, a.session.Token)
	a.store.Clear(ctx)
	a.log.Print(ctx, "signed out", "user", a.session.UserID)
	a.session = nil
	return err
}

// Session は現在のセッションを返す（未サインインなら nil）
func (a *App) Session() *auth.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Store はサインイン中のユーザーの Store を返す
func (a *App) Store() (*service.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, apperror.Unauthorized("サインインしていません")
	}
	return a.store, nil
}

// Snapshot は現在のスナップショットを返す（サインアウト後はテーマと言語だけが残る）
func (a *App) Snapshot() *state.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return state.Empty()
	}
	return a.store.Snapshot()
}

// Done は同期ループが終わると閉じるチャネルを返す（同期していなければ nil）
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Close は同期ループを止め、未反映の残高差分を書き込む。ctx がキャンセル済みでも書き込みは試みる
func (a *App) Close(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopSync()
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if n := a.store.FlushRepairs(ctx); n > 0 {
		a.log.Error(ctx, "balance repairs left unapplied", "count", n)
	}
}

func (a *App) open(ctx context.Context, s *auth.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopSync()

	gw := gateway.New(a.backend.ForUser(s.UserID))
	st := service.NewStore(gw, a.log, a.storeOpts...)
	if err := st.Load(ctx); err != nil {
		return err
	}
	a.session, a.store = s, st
	a.log.Print(ctx, "session opened", "user", s.UserID, "atomic", gw.Atomic())

	if !a.sync {
		return nil
	}
	// 同期はリクエストの ctx より長く生きる
	syncCtx, cancel := context.WithCancel(context.Background())
	changes, err := gw.Changes(syncCtx)
	if err != nil {
		cancel()
		a.log.Error(ctx, "change stream unavailable", "err", err)
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Sync(syncCtx, changes)
	}()
	a.stop, a.done = cancel, done
	return nil
}

// stopSync は同期ループを止めて終了を待つ。a.mu を保持して呼ぶ
func (a *App) stopSync() {
	if a.stop == nil {
		return
	}
	a.stop()
	<-a.done
	a.stop, a.done = nil, nil
}
