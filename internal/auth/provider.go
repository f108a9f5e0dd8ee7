// Package auth はメール・パスワードと Google ID Token によるサインインを提供する。
// セッションは HS256 の JWT で、ユーザーの session epoch を持つ。
// サインアウトで epoch を進めると、そのユーザーに発行済みの全トークンが無効になる。
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fintrack/internal/apperror"
	"fintrack/internal/model"
)

const minPasswordLength = 6

// CredentialStore はユーザーの保存先
type CredentialStore interface {
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	PutUser(ctx context.Context, u *model.User) error
}

// EmailVerifier は外部 ID Token を検証してメールアドレスを返す
type EmailVerifier interface {
	VerifyEmail(ctx context.Context, token string) (string, error)
}

// Session はサインイン中のセッション
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionClaims struct {
	Email string `json:"email"`
	Epoch int    `json:"epoch"`
	jwt.RegisteredClaims
}

// Provider は認証プロバイダ
type Provider struct {
	users    CredentialStore
	secret   []byte
	ttl      time.Duration
	verifier EmailVerifier
	now      func() time.Time
}

// Option は Provider の設定
type Option func(*Provider)

// WithGoogleClientID は Google ID Token でのサインインを有効にする
func WithGoogleClientID(clientID string) Option {
	return func(p *Provider) {
		if clientID != "" {
			p.verifier = &googleVerifier{clientID: clientID}
		}
	}
}

// WithVerifier は ID Token の検証器を差し替える
func WithVerifier(v EmailVerifier) Option {
	return func(p *Provider) { p.verifier = v }
}

// WithClock は現在時刻の取得元を差し替える
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider は Provider を生成する
func NewProvider(users CredentialStore, secret string, ttl time.Duration, opts ...Option) *Provider {
	p := &Provider{users: users, secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp は新規ユーザーを登録してサインインする
func (p *Provider) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, apperror.Newf("パスワードは%d文字以上にしてください", minPasswordLength)
	}
	existing, err := p.users.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperror.Conflict("このメールアドレスは既に登録されています")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC().Format(time.RFC3339),
	}
	if err := p.users.PutUser(ctx, u); err != nil {
		return nil, err
	}
	return p.issue(u)
}

// SignIn はメールアドレスとパスワードでサインインする
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := p.users.UserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	if u == nil || u.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperror.Unauthorized("メールアドレスまたはパスワードが違います")
	}
	return p.issue(u)
}

// SignInWithIDToken は Google ID Token でサインインする（未登録なら作成する）
func (p *Provider) SignInWithIDToken(ctx context.Context, token string) (*Session, error) {
	if p.verifier == nil {
		return nil, apperror.New("ID Token でのサインインは有効になっていません")
	}
	email, err := p.verifier.VerifyEmail(ctx, token)
	if err != nil {
		return nil, apperror.Unauthorized(err.Error())
	}
	email = strings.ToLower(email)
	u, err := p.users.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u = &model.User{
			ID:        uuid.New().String(),
			Email:     email,
			CreatedAt: p.now().UTC().Format(time.RFC3339),
		}
		if err := p.users.PutUser(ctx, u); err != nil {
			return nil, err
		}
	}
	return p.issue(u)
}

// Session はトークンに対応する現在のセッションを返す（無効・期限切れ・失効済みなら nil）
func (p *Provider) Session(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	c, err := p.parse(token)
	if err != nil {
		return nil, nil
	}
	u, err := p.users.UserByEmail(ctx, c.Email)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ID != c.Subject || u.SessionEpoch != c.Epoch {
		return nil, nil
	}
	return &Session{Token: token, UserID: u.ID, Email: u.Email, ExpiresAt: c.ExpiresAt.Time}, nil
}

// SignOut はユーザーの epoch を進めて発行済みトークンを全て失効させる
func (p *Provider) SignOut(ctx context.Context, token string) error {
	c, err := p.parse(token)
	if err != nil {
		return nil
	}
	u, err := p.users.UserByEmail(ctx, c.Email)
	if err != nil {
		return err
	}
	if u == nil || u.ID != c.Subject || u.SessionEpoch != c.Epoch {
		return nil
	}
	u.SessionEpoch++
	return p.users.PutUser(ctx, u)
}

func (p *Provider) issue(u *model.User) (*Session, error) {
	now := p.now()
	exp := now.Add(p.ttl)
	c := sessionClaims{
		Email: u.Email,
		Epoch: u.SessionEpoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return &Session{Token: token, UserID: u.ID, Email: u.Email, ExpiresAt: exp.UTC()}, nil
}

func (p *Provider) parse(token string) (*sessionClaims, error) {
	var c sessionClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, err
	}
	// 期限は注入した時計で判定する
	if c.ExpiresAt == nil || !p.now().Before(c.ExpiresAt.Time) {
		return nil, errors.New("token expired")
	}
	return &c, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.New("メールアドレスの形式が正しくありません")
	}
	return email, nil
}
