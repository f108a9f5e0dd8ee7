package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// claims は Google ID Token のペイロード
type claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// googleVerifier は Google ID Token を検証する。プロバイダ情報は初回検証時に取得する
type googleVerifier struct {
	clientID string

	once     sync.Once
	verifier *oidc.IDTokenVerifier
	initErr  error
}

func (g *googleVerifier) get(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	g.once.Do(func() {
		if g.clientID == "" {
			g.initErr = errors.New("GOOGLE_CLIENT_ID が設定されていません")
			return
		}
		provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
		if err != nil {
			g.initErr = fmt.Errorf("OIDC プロバイダの取得に失敗: %w", err)
			return
		}
		g.verifier = provider.Verifier(&oidc.Config{ClientID: g.clientID})
	})
	return g.verifier, g.initErr
}

// VerifyEmail は ID Token を検証し、検証済みのメールアドレスを返す
func (g *googleVerifier) VerifyEmail(ctx context.Context, token string) (string, error) {
	v, err := g.get(ctx)
	if err != nil {
		return "", err
	}
	idToken, err := v.Verify(ctx, token)
	if err != nil {
		return "", fmt.Errorf("ID Token の検証に失敗: %w", err)
	}
	var c claims
	if err := idToken.Claims(&c); err != nil {
		return "", fmt.Errorf("claims の取得に失敗: %w", err)
	}
	if c.Email == "" || !c.EmailVerified {
		return "", errors.New("メールアドレスが未検証です")
	}
	return c.Email, nil
}
