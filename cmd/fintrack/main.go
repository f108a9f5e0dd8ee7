// fintrack は家計簿のコマンドラインクライアント
//
// 使い方:
//
//	fintrack [-session FILE] <command> [flags]
//
//	signup  -email E -password P   新規登録してサインインする
//	signin  -email E -password P   パスワードでサインインする
//	signin  -id-token T            Google ID Token でサインインする
//	signout                        サインアウトする（発行済みトークンを全て失効させる）
//	status                         残高合計と通知中のサブスクリプションを表示する
//	exec                           標準入力の ActionRequest (JSON) を実行する
//	import  -file F [-account A]   CSV の取引を一括登録する
//	export  -xlsx F | -sheets      XLSX ファイルまたはスプレッドシートに書き出す
//	watch                          変更通知を受けて同期し続ける（METRICS_ADDR でメトリクスを公開）
//
// 設定は環境変数から読む（FINTRACK_BACKEND, AUTH_SECRET など）。
// memory バックエンドはプロセス内にしかデータを持たないため、watch 以外ではほぼ意味がない。
//
// 終了コードは 1 が入力エラー、2 が使い方の誤り、3 が未認証、4 がサーバーエラー。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vmkteam/embedlog"

	"fintrack/internal/app"
	"fintrack/internal/apperror"
	"fintrack/internal/auth"
	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/service"
)

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "fintrack", "session")
}

func main() {
	sessionPath := flag.String("session", defaultSessionPath(), "セッショントークンの保存先")
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "commands: signup, signin, signout, status, exec, import, export, watch")
		os.Exit(2)
	}
	if err := run(flag.Arg(0), flag.Args()[1:], *sessionPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode は 401 なら 3、その他の AppError なら 1、それ以外なら 4 を返す
func exitCode(err error) int {
	switch status := apperror.StatusOf(err); {
	case status == 401:
		return 3
	case status < 500:
		return 1
	}
	return 4
}

func run(cmd string, args []string, sessionPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := embedlog.NewLogger(cfg.LogVerbose, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, closeBackend, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	provider := auth.NewProvider(b, cfg.AuthSecret, cfg.SessionTTL, auth.WithGoogleClientID(cfg.GoogleClient))
	opts := []app.Option{app.WithStoreOptions(service.WithLocation(cfg.Location))}
	if cmd != "watch" {
		opts = append(opts, app.WithoutSync())
	}
	a := app.New(b, provider, logger, opts...)
	defer a.Close(ctx)

	c := &cli{app: a, cfg: cfg, log: logger, sessionPath: sessionPath}
	switch cmd {
	case "signup":
		return c.signUp(ctx, args)
	case "signin":
		return c.signIn(ctx, args)
	case "signout":
		return c.signOut(ctx)
	case "status":
		return c.status(ctx)
	case "exec":
		return c.exec(ctx)
	case "import":
		return c.importCSV(ctx, args)
	case "export":
		return c.export(ctx, args)
	case "watch":
		return c.watch(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

type cli struct {
	app         *app.App
	cfg         *config.Config
	log         embedlog.Logger
	sessionPath string
}

func (c *cli) saveToken(s *auth.Session) error {
	if err := os.MkdirAll(filepath.Dir(c.sessionPath), 0o700); err != nil {
		return fmt.Errorf("セッション保存先の作成に失敗: %w", err)
	}
	if err := os.WriteFile(c.sessionPath, []byte(s.Token), 0o600); err != nil {
		return fmt.Errorf("セッションの保存に失敗: %w", err)
	}
	return nil
}

// resume は保存済みのトークンでセッションを再開する
func (c *cli) resume(ctx context.Context) (*service.Store, error) {
	token, err := os.ReadFile(c.sessionPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.New("サインインしていません（fintrack signin）")
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの読み込みに失敗: %w", err)
	}
	if _, err := c.app.Resume(ctx, string(token)); err != nil {
		return nil, err
	}
	return c.app.Store()
}

func (c *cli) signUp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "メールアドレス")
	password := fs.String("password", os.Getenv("FINTRACK_PASSWORD"), "パスワード（FINTRACK_PASSWORD でも指定可）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := c.app.SignUp(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("signed up as %s\n", s.Email)
	return c.saveToken(s)
}

func (c *cli) signIn(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signin", flag.ContinueOnError)
	email := fs.String("email", "", "メールアドレス")
	password := fs.String("password", os.Getenv("FINTRACK_PASSWORD"), "パスワード（FINTRACK_PASSWORD でも指定可）")
	idToken := fs.String("id-token", "", "Google ID Token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var s *auth.Session
	var err error
	if *idToken != "" {
		s, err = c.app.SignInWithIDToken(ctx, *idToken)
	} else {
		s, err = c.app.SignIn(ctx, *email, *password)
	}
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s\n", s.Email)
	return c.saveToken(s)
}

func (c *cli) signOut(ctx context.Context) error {
	if _, err := c.resume(ctx); err != nil {
		return err
	}
	if err := c.app.SignOut(ctx); err != nil {
		return err
	}
	if err := os.Remove(c.sessionPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	fmt.Println("signed out")
	return nil
}
