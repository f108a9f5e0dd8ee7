package sheets

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/sheets/v4"

	"fintrack/internal/auth"
)

// Client は Google Sheets API のラッパー
type Client struct {
	service       *sheets.Service
	spreadsheetID string
}

// NewClient は Sheets API クライアントを生成する
func NewClient(wif auth.WIFConfig, spreadsheetID string) (*Client, error) {
	if spreadsheetID == "" {
		return nil, errors.New("SPREADSHEET_ID が設定されていません")
	}
	svc, err := auth.SheetsService(wif)
	if err != nil {
		return nil, err
	}
	return &Client{service: svc, spreadsheetID: spreadsheetID}, nil
}

// ClearSheet はシートの全セルを消去する
func (c *Client) ClearSheet(ctx context.Context, sheetName string) error {
	_, err := c.service.Spreadsheets.Values.
		Clear(c.spreadsheetID, sheetName, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("シート %q の消去に失敗: %w", sheetName, err)
	}
	return nil
}

// WriteRows は A1 から rows を書き込む（ヘッダー行を含めて渡す）
func (c *Client) WriteRows(ctx context.Context, sheetName string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &sheets.ValueRange{Values: rows}
	_, err := c.service.Spreadsheets.Values.
		Update(c.spreadsheetID, sheetName+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("シート %q への書き込みに失敗: %w", sheetName, err)
	}
	return nil
}
