// Package handler は JSON の ActionRequest を Store のアクションに振り分ける。
package handler

import (
	"context"
	"encoding/json"

	"github.com/vmkteam/embedlog"

	"fintrack/internal/apperror"
	"fintrack/internal/model"
	"fintrack/internal/service"
)

// StoreSource はサインイン中の Store を返す（未サインインなら AppError）
type StoreSource interface {
	Store() (*service.Store, error)
}

// Handler はアクションの振り分けを行う
type Handler struct {
	stores StoreSource
	log    embedlog.Logger
}

// New は Handler を生成する
func New(stores StoreSource, log embedlog.Logger) *Handler {
	return &Handler{stores: stores, log: log}
}

func successResponse(data any) model.APIResponse {
	return model.APIResponse{Success: true, Data: data}
}

func errorResponse(msg string) model.APIResponse {
	return model.APIResponse{Success: false, Error: msg}
}

// HandleJSON はリクエストボディを解析して実行する
func (h *Handler) HandleJSON(ctx context.Context, body []byte) model.APIResponse {
	var req model.ActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errorResponse("リクエストの解析に失敗しました")
	}
	return h.Handle(ctx, &req)
}

// Handle はアクションを実行し、結果をレスポンスにする。
// AppError はメッセージをそのまま返し、それ以外はログに残して汎用メッセージにする
func (h *Handler) Handle(ctx context.Context, req *model.ActionRequest) model.APIResponse {
	st, err := h.stores.Store()
	if err == nil {
		var result any
		result, err = handleAction(ctx, st, req)
		if err == nil {
			return successResponse(result)
		}
	}
	if appErr, ok := apperror.As(err); ok {
		return errorResponse(appErr.Message)
	}
	h.log.Error(ctx, "action failed", "action", req.Action, "err", err)
	return errorResponse("サーバーエラーが発生しました")
}

func handleAction(ctx context.Context, st *service.Store, req *model.ActionRequest) (any, error) {
	switch req.Action {
	case "getSnapshot":
		return st.Snapshot(), nil

	case "refresh":
		if err := st.Load(ctx); err != nil {
			return nil, err
		}
		return st.Snapshot(), nil

	case "recordTransaction":
		if req.Transaction == nil {
			return nil, apperror.New("transaction は必須です")
		}
		return st.RecordTransaction(ctx, req.Transaction)

	case "getTransactions":
		if req.Month == "" {
			return st.Snapshot().Transactions, nil
		}
		return service.TransactionsInMonth(st.Snapshot(), req.Month)

	// --- 口座 ---

	case "addAccount":
		if req.Account == nil {
			return nil, apperror.New("account は必須です")
		}
		return st.AddAccount(ctx, req.Account)

	case "deleteAccount":
		if req.ID == "" {
			return nil, apperror.New("id は必須です")
		}
		return nil, st.DeleteAccount(ctx, req.ID)

	case "getTotals":
		return service.Totals(st.Snapshot()), nil

	// --- 予算 ---

	case "addBudget":
		if req.Budget == nil {
			return nil, apperror.New("budget は必須です")
		}
		return st.AddBudget(ctx, req.Budget)

	case "deleteBudget":
		if req.ID == "" {
			return nil, apperror.New("id は必須です")
		}
		return nil, st.DeleteBudget(ctx, req.ID)

	case "getBudgetUsage":
		return service.BudgetUsages(st.Snapshot(), req.Month), nil

	// --- 借金 ---

	case "addDebt":
		if req.Debt == nil {
			return nil, apperror.New("debt は必須です")
		}
		return st.AddDebt(ctx, req.Debt, req.AccountID)

	case "deleteDebt":
		if req.ID == "" {
			return nil, apperror.New("id は必須です")
		}
		return nil, st.DeleteDebt(ctx, req.ID)

	case "toggleDebt":
		if req.ID == "" {
			return nil, apperror.New("id は必須です")
		}
		return st.ToggleDebt(ctx, req.ID, req.AccountID)

	// --- サブスクリプション ---

	case "addSubscription":
		if req.Subscription == nil {
			return nil, apperror.New("subscription は必須です")
		}
		return st.AddSubscription(ctx, req.Subscription)

	case "deleteSubscription":
		if req.ID == "" {
			return nil, apperror.New("id は必須です")
		}
		return nil, st.DeleteSubscription(ctx, req.ID)

	case "resolveSubscription":
		if req.ID == "" {
			return nil, apperror.New("id は必須です")
		}
		return st.ResolveSubscription(ctx, req.ID, req.AccountID)

	case "dismissSubscription":
		st.SetPendingSubscription(nil)
		return nil, nil

	// --- カテゴリ ---

	case "addCategory":
		if req.Category == nil {
			return nil, apperror.New("category は必須です")
		}
		return nil, st.AddCategory(ctx, *req.Category)

	case "deleteCategory":
		if req.Category == nil {
			return nil, apperror.New("category は必須です")
		}
		return nil, st.DeleteCategory(ctx, *req.Category)

	// --- 設定・集計 ---

	case "setTheme":
		return nil, st.SetTheme(ctx, req.Theme)

	case "setLanguage":
		return nil, st.SetLanguage(ctx, req.Language)

	case "getMonthlySummary":
		if req.Month == "" {
			return nil, apperror.New("month は必須です")
		}
		currency := req.Currency
		if currency == "" {
			currency = model.CurrencyUZS
		}
		return service.MonthlySummary(st.Snapshot(), req.Month, currency)

	default:
		return nil, apperror.Newf("不明なアクションです: %s", req.Action)
	}
}
