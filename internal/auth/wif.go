package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// WIFConfig は Workload Identity Federation の設定
type WIFConfig struct {
	ProjectNumber       string
	PoolID              string
	ProviderID          string
	ServiceAccountEmail string
}

func (c WIFConfig) complete() bool {
	return c.ProjectNumber != "" && c.PoolID != "" && c.ProviderID != "" && c.ServiceAccountEmail != ""
}

var (
	sheetsService *sheets.Service
	sheetsOnce    sync.Once
	sheetsErr     error
)

// externalAccountJSON は AWS 上から Google に認証するための external_account 認証情報を組み立てる
func externalAccountJSON(c WIFConfig) ([]byte, error) {
	if !c.complete() {
		return nil, errors.New("Workload Identity Federation の環境変数が不足しています: " +
			"GCP_PROJECT_NUMBER, GCP_WIF_POOL_ID, GCP_WIF_PROVIDER_ID, GCP_SERVICE_ACCOUNT_EMAIL")
	}
	return json.Marshal(map[string]any{
		"type":               "external_account",
		"audience":           fmt.Sprintf("//iam.googleapis.com/projects/%s/locations/global/workloadIdentityPools/%s/providers/%s", c.ProjectNumber, c.PoolID, c.ProviderID),
		"subject_token_type": "urn:ietf:params:aws:token-type:aws4_request",
		"token_url":          "https://sts.googleapis.com/v1/token",
		"credential_source": map[string]any{
			"environment_id":                 "aws1",
			"regional_cred_verification_url": "https://sts.{region}.amazonaws.com?Action=GetCallerIdentity&Version=2011-06-15",
		},
		"service_account_impersonation_url": fmt.Sprintf(
			"https://iamcredentials.googleapis.com/v1/projects/-/serviceAccounts/%s:generateAccessToken",
			c.ServiceAccountEmail,
		),
	})
}

// SheetsService は Google Sheets API クライアントを返す（シングルトン）。
// WIF の設定が無い場合は Application Default Credentials を使う。
// トークンの更新がリクエストをまたぐため context.Background() で初期化する
func SheetsService(c WIFConfig) (*sheets.Service, error) {
	sheetsOnce.Do(func() {
		bgCtx := context.Background()
		scope := "https://www.googleapis.com/auth/spreadsheets"

		var creds *google.Credentials
		var err error
		if c.complete() {
			var credJSON []byte
			credJSON, err = externalAccountJSON(c)
			if err == nil {
				creds, err = google.CredentialsFromJSON(bgCtx, credJSON, scope)
			}
		} else {
			creds, err = google.FindDefaultCredentials(bgCtx, scope)
		}
		if err != nil {
			sheetsErr = fmt.Errorf("Google 認証情報の構築に失敗: %w", err)
			return
		}

		svc, err := sheets.NewService(bgCtx, option.WithCredentials(creds))
		if err != nil {
			sheetsErr = fmt.Errorf("Sheets APIクライアントの作成に失敗: %w", err)
			return
		}
		sheetsService = svc
	})
	return sheetsService, sheetsErr
}
