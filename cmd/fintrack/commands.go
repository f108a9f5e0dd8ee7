package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"fintrack/internal/csvimport"
	"fintrack/internal/export"
	"fintrack/internal/handler"
	"fintrack/internal/model"
	"fintrack/internal/service"
	"fintrack/internal/sheets"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type statusView struct {
	Email               string                `json:"email"`
	Accounts            int                   `json:"accounts"`
	Transactions        int                   `json:"transactions"`
	Totals              []model.CurrencyTotal `json:"totals"`
	PendingSubscription *model.Subscription   `json:"pendingSubscription,omitempty"`
	PendingRepairs      int                   `json:"pendingRepairs,omitempty"`
}

func (c *cli) status(ctx context.Context) error {
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	snap := st.Snapshot()
	return printJSON(statusView{
		Email:               c.app.Session().Email,
		Accounts:            len(snap.Accounts),
		Transactions:        len(snap.Transactions),
		Totals:              service.Totals(snap),
		PendingSubscription: snap.PendingSubscription,
		PendingRepairs:      st.PendingRepairs(),
	})
}

func (c *cli) exec(ctx context.Context) error {
	if _, err := c.resume(ctx); err != nil {
		return err
	}
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("標準入力の読み込みに失敗: %w", err)
	}
	resp := handler.New(c.app, c.log).HandleJSON(ctx, body)
	if err := printJSON(resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}

func (c *cli) importCSV(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	path := fs.String("file", "", "CSV ファイルパス")
	account := fs.String("account", "", "account 列が空の行に使う口座（id または名前）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("-file を指定してください")
	}
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("ファイルオープンエラー: %w", err)
	}
	defer f.Close()

	snap := st.Snapshot()
	defaultAccount := *account
	for _, a := range snap.Accounts {
		if a.Name == defaultAccount {
			defaultAccount = a.ID
		}
	}
	inputs, err := csvimport.Parse(f, snap.Accounts, defaultAccount)
	if err != nil {
		return err
	}
	created, err := st.ImportTransactions(ctx, inputs)
	fmt.Printf("%d / %d 件登録\n", len(created), len(inputs))
	return err
}

func (c *cli) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	xlsxPath := fs.String("xlsx", "", "書き出す XLSX ファイル")
	toSheets := fs.Bool("sheets", false, "SPREADSHEET_ID のスプレッドシートに書き出す")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *xlsxPath == "" && !*toSheets {
		return errors.New("-xlsx または -sheets を指定してください")
	}
	st, err := c.resume(ctx)
	if err != nil {
		return err
	}
	snap := st.Snapshot()

	if *xlsxPath != "" {
		f, err := os.Create(*xlsxPath)
		if err != nil {
			return fmt.Errorf("ファイル作成エラー: %w", err)
		}
		if err := export.WriteXLSX(f, snap); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *xlsxPath)
	}
	if *toSheets {
		client, err := sheets.NewClient(c.cfg.WIF, c.cfg.SpreadsheetID)
		if err != nil {
			return err
		}
		n, err := export.SyncSheets(ctx, client, snap)
		if err != nil {
			return err
		}
		c.log.Print(ctx, "sheets synced", "spreadsheet", c.cfg.SpreadsheetID, "transactions", n)
	}
	return nil
}
