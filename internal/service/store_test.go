package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmkteam/embedlog"

	"fintrack/internal/apperror"
	"fintrack/internal/gateway"
	"fintrack/internal/model"
	"fintrack/internal/remote"
)

var errInjected = errors.New("injected failure")

// flakyStore は remote.Store をラップして書き込み・読み込みを失敗させる（Batcher ではない）
type flakyStore struct {
	remote.Store

	mu        sync.Mutex
	failWrite func(kind remote.OpKind, c remote.Collection) bool
	failFetch map[remote.Collection]bool
}

func (f *flakyStore) shouldFail(kind remote.OpKind, c remote.Collection) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWrite != nil && f.failWrite(kind, c)
}

func (f *flakyStore) setFailWrite(fn func(kind remote.OpKind, c remote.Collection) bool) {
	f.mu.Lock()
	f.failWrite = fn
	f.mu.Unlock()
}

func (f *flakyStore) FetchAll(ctx context.Context, c remote.Collection) ([]remote.Row, error) {
	f.mu.Lock()
	fail := f.failFetch[c]
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Store.FetchAll(ctx, c)
}

func (f *flakyStore) Insert(ctx context.Context, c remote.Collection, row remote.Row) (remote.Row, error) {
	if f.shouldFail(remote.OpInsert, c) {
		return nil, errInjected
	}
	return f.Store.Insert(ctx, c, row)
}

func (f *flakyStore) Update(ctx context.Context, c remote.Collection, id string, patch remote.Row) error {
	if f.shouldFail(remote.OpUpdate, c) {
		return errInjected
	}
	return f.Store.Update(ctx, c, id, patch)
}

func (f *flakyStore) Delete(ctx context.Context, c remote.Collection, id string) error {
	if f.shouldFail(remote.OpDelete, c) {
		return errInjected
	}
	return f.Store.Delete(ctx, c, id)
}

var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(rs remote.Store) *Store {
	return NewStore(gateway.New(rs), embedlog.NewLogger(false, false),
		WithClock(func() time.Time { return testNow }),
		WithLocation(time.UTC),
	)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func insert(t *testing.T, rs remote.Store, c remote.Collection, row remote.Row) string {
	t.Helper()
	got, err := rs.Insert(context.Background(), c, row)
	if err != nil {
		t.Fatalf("insert %s: %v", c, err)
	}
	return got.ID()
}

// seedAccounts は UZS の現金 100000 と USD のカード 50 を登録する
func seedAccounts(t *testing.T, rs remote.Store) (cash, card string) {
	t.Helper()
	cash = insert(t, rs, remote.Accounts, remote.Row{"name": "Наличные", "type": "CASH", "currency": "UZS", "balance": "100000"})
	card = insert(t, rs, remote.Accounts, remote.Row{"name": "Visa", "type": "CARD", "currency": "USD", "balance": "50"})
	return cash, card
}

func remoteBalance(t *testing.T, rs remote.Store, id string) decimal.Decimal {
	t.Helper()
	bal, err := gateway.New(rs).Balance(context.Background(), id)
	if err != nil {
		t.Fatalf("remote balance: %v", err)
	}
	return bal
}

func localBalance(t *testing.T, s *Store, id string) decimal.Decimal {
	t.Helper()
	a, ok := s.Snapshot().Account(id)
	if !ok {
		t.Fatalf("account %s not in snapshot", id)
	}
	return a.Balance
}

func mustLoad(t *testing.T, s *Store) {
	t.Helper()
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	seedAccounts(t, rs)
	insert(t, rs, remote.Subscriptions, remote.Row{"name": "Netflix", "amount": "10", "currency": "USD", "period": "MONTHLY", "category": "Подписки", "payment_day": 15})
	insert(t, rs, remote.Categories, remote.Row{"type": "EXPENSE", "name": "Такси"})
	insert(t, rs, remote.Categories, remote.Row{"type": "EXPENSE", "name": model.DebtsCategory})
	insert(t, rs, remote.UserSettings, remote.Row{"theme": "dark", "language": "uz"})

	s := newTestStore(rs)
	mustLoad(t, s)
	snap := s.Snapshot()

	if len(snap.Accounts) != 2 {
		t.Errorf("len(Accounts) = %d, want 2", len(snap.Accounts))
	}
	if want := []string{model.DebtsCategory}; !reflect.DeepEqual(snap.IncomeCategories, want) {
		t.Errorf("IncomeCategories = %v, want %v", snap.IncomeCategories, want)
	}
	if want := []string{"Такси", model.DebtsCategory}; !reflect.DeepEqual(snap.ExpenseCategories, want) {
		t.Errorf("ExpenseCategories = %v, want %v", snap.ExpenseCategories, want)
	}
	if snap.PendingSubscription == nil || snap.PendingSubscription.Name != "Netflix" {
		t.Errorf("PendingSubscription = %v, want Netflix", snap.PendingSubscription)
	}
	if snap.Theme != model.ThemeDark || snap.Language != model.LanguageUZ {
		t.Errorf("settings = %s/%s, want dark/uz", snap.Theme, snap.Language)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	cash, _ := seedAccounts(t, rs)
	insert(t, rs, remote.Transactions, remote.Row{"type": "EXPENSE", "amount": "1500", "currency": "UZS", "account_id": cash, "category": "Еда", "date": "2024-05-01", "tags": []string{"обед"}})
	insert(t, rs, remote.Debts, remote.Row{"type": "I_OWE", "person_name": "Али", "amount": "300", "currency": "UZS", "is_paid": false})

	s := newTestStore(rs)
	mustLoad(t, s)
	first := s.Snapshot()
	mustLoad(t, s)
	second := s.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second load differs:\n%+v\n%+v", first, second)
	}
}

func TestLoadReadFailureLeavesSliceEmpty(t *testing.T) {
	mem := remote.NewMemory().ForUser("u1")
	seedAccounts(t, mem)
	insert(t, mem, remote.Debts, remote.Row{"type": "I_OWE", "person_name": "Али", "amount": "300", "currency": "UZS"})
	rs := &flakyStore{Store: mem, failFetch: map[remote.Collection]bool{remote.Debts: true}}

	s := newTestStore(rs)
	mustLoad(t, s)
	snap := s.Snapshot()
	if len(snap.Debts) != 0 {
		t.Errorf("len(Debts) = %d, want 0", len(snap.Debts))
	}
	if len(snap.Accounts) != 2 {
		t.Errorf("len(Accounts) = %d, want 2", len(snap.Accounts))
	}
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	cash, _ := seedAccounts(t, rs)
	insert(t, rs, remote.Transactions, remote.Row{"type": "EXPENSE", "amount": "abc", "currency": "UZS", "account_id": cash, "category": "Еда", "date": "2024-05-01"})
	insert(t, rs, remote.Transactions, remote.Row{"type": "INCOME", "amount": 2000, "currency": "UZS", "account_id": cash, "category": "Зарплата", "date": "2024-05-02"})

	s := newTestStore(rs)
	mustLoad(t, s)
	txs := s.Snapshot().Transactions
	if len(txs) != 1 || txs[0].Type != model.TxIncome {
		t.Errorf("Transactions = %+v, want only the income", txs)
	}
}

func TestRecordTransaction(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	cash, card := seedAccounts(t, rs)
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	tx, err := s.RecordTransaction(ctx, &model.TransactionInput{Type: model.TxExpense, Amount: dec("2500"), AccountID: cash, Category: "Еда"})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if tx.ID == "" || tx.Date != "2024-05-15" || tx.Currency != model.CurrencyUZS {
		t.Errorf("tx = %+v", tx)
	}
	if got := localBalance(t, s, cash); !got.Equal(dec("97500")) {
		t.Errorf("local cash = %s, want 97500", got)
	}
	if got := remoteBalance(t, rs, cash); !got.Equal(dec("97500")) {
		t.Errorf("remote cash = %s, want 97500", got)
	}

	rate := dec("0.00008")
	if _, err := s.RecordTransaction(ctx, &model.TransactionInput{Type: model.TxTransfer, Amount: dec("50000"), AccountID: cash, ToAccountID: card, ExchangeRate: &rate}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := localBalance(t, s, card); !got.Equal(dec("54")) {
		t.Errorf("local card = %s, want 54", got)
	}
	if got := remoteBalance(t, rs, card); !got.Equal(dec("54")) {
		t.Errorf("remote card = %s, want 54", got)
	}
	if txs := s.Snapshot().Transactions; len(txs) != 2 || txs[0].Category != model.TransferCategory {
		t.Errorf("Transactions = %+v", txs)
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	cash, card := seedAccounts(t, rs)
	s := newTestStore(rs)
	mustLoad(t, s)

	zero := dec("0")
	tests := []struct {
		name string
		in   model.TransactionInput
	}{
		{"zero amount", model.TransactionInput{Type: model.TxExpense, Amount: zero, AccountID: cash, Category: "Еда"}},
		{"unknown account", model.TransactionInput{Type: model.TxExpense, Amount: dec("1"), AccountID: "nope", Category: "Еда"}},
		{"missing category", model.TransactionInput{Type: model.TxIncome, Amount: dec("1"), AccountID: cash}},
		{"bad date", model.TransactionInput{Type: model.TxIncome, Amount: dec("1"), AccountID: cash, Category: "Еда", Date: "15.05.2024"}},
		{"cross currency without rate", model.TransactionInput{Type: model.TxTransfer, Amount: dec("1"), AccountID: cash, ToAccountID: card}},
		{"cross currency zero rate", model.TransactionInput{Type: model.TxTransfer, Amount: dec("1"), AccountID: cash, ToAccountID: card, ExchangeRate: &zero}},
		{"same account", model.TransactionInput{Type: model.TxTransfer, Amount: dec("1"), AccountID: cash, ToAccountID: cash}},
	}
	before := s.Snapshot()
	for _, tt := range tests {
		_, err := s.RecordTransaction(context.Background(), &tt.in)
		if _, ok := apperror.As(err); !ok {
			t.Errorf("%s: err = %v, want AppError", tt.name, err)
		}
	}
	if s.Snapshot() != before {
		t.Errorf("snapshot changed by rejected actions")
	}
}

func TestRecordTransactionRemoteFailure(t *testing.T) {
	mem := remote.NewMemory().ForUser("u1")
	cash, _ := seedAccounts(t, mem)
	rs := &flakyStore{Store: mem}
	s := newTestStore(rs)
	mustLoad(t, s)
	before := s.Snapshot()

	rs.setFailWrite(func(kind remote.OpKind, c remote.Collection) bool { return c == remote.Transactions })
	_, err := s.RecordTransaction(context.Background(), &model.TransactionInput{Type: model.TxIncome, Amount: dec("10"), AccountID: cash, Category: "Зарплата"})
	if !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	if s.Snapshot() != before {
		t.Errorf("snapshot changed after failed write")
	}
	if n := s.PendingRepairs(); n != 0 {
		t.Errorf("PendingRepairs = %d, want 0", n)
	}
	if got := remoteBalance(t, mem, cash); !got.Equal(dec("100000")) {
		t.Errorf("remote cash = %s, want 100000", got)
	}
}

func TestRecordTransactionBalanceRepair(t *testing.T) {
	mem := remote.NewMemory().ForUser("u1")
	cash, _ := seedAccounts(t, mem)
	rs := &flakyStore{Store: mem}
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	rs.setFailWrite(func(kind remote.OpKind, c remote.Collection) bool { return c == remote.Accounts })
	if _, err := s.RecordTransaction(ctx, &model.TransactionInput{Type: model.TxExpense, Amount: dec("400"), AccountID: cash, Category: "Еда"}); err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if got := localBalance(t, s, cash); !got.Equal(dec("99600")) {
		t.Errorf("local cash = %s, want 99600", got)
	}
	if got := remoteBalance(t, mem, cash); !got.Equal(dec("100000")) {
		t.Errorf("remote cash = %s, want 100000 before repair", got)
	}
	if n := s.PendingRepairs(); n != 1 {
		t.Fatalf("PendingRepairs = %d, want 1", n)
	}

	// 修復が失敗している間は持ち越す
	mustLoad(t, s)
	if n := s.PendingRepairs(); n != 1 {
		t.Errorf("PendingRepairs = %d, want 1 while writes fail", n)
	}

	rs.setFailWrite(nil)
	mustLoad(t, s)
	if n := s.PendingRepairs(); n != 0 {
		t.Errorf("PendingRepairs = %d, want 0", n)
	}
	if got := remoteBalance(t, mem, cash); !got.Equal(dec("99600")) {
		t.Errorf("remote cash = %s, want 99600 after repair", got)
	}
	if got := localBalance(t, s, cash); !got.Equal(dec("99600")) {
		t.Errorf("local cash = %s, want 99600 after reload", got)
	}
}

func TestClearFlushesRepairs(t *testing.T) {
	mem := remote.NewMemory().ForUser("u1")
	cash, _ := seedAccounts(t, mem)
	rs := &flakyStore{Store: mem}
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	rs.setFailWrite(func(kind remote.OpKind, c remote.Collection) bool { return c == remote.Accounts })
	if _, err := s.RecordTransaction(ctx, &model.TransactionInput{Type: model.TxExpense, Amount: dec("250"), AccountID: cash, Category: "Еда"}); err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if n := s.FlushRepairs(ctx); n != 1 {
		t.Fatalf("FlushRepairs = %d, want 1 while writes fail", n)
	}

	rs.setFailWrite(nil)
	s.Clear(ctx)
	if n := s.PendingRepairs(); n != 0 {
		t.Errorf("PendingRepairs = %d, want 0", n)
	}
	if got := remoteBalance(t, mem, cash); !got.Equal(dec("99750")) {
		t.Errorf("remote cash = %s, want 99750", got)
	}
	if n := len(s.Snapshot().Accounts); n != 0 {
		t.Errorf("len(Accounts) = %d after Clear, want 0", n)
	}
}

func TestCompanionInsertFailureKeepsBalance(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, s *Store, rs remote.Store, cash, card string) error
		// 再取得後に確認する口座と残高
		account     func(cash, card string) string
		wantBalance string
	}{
		{
			name: "ToggleDebt",
			run: func(ctx context.Context, s *Store, rs remote.Store, cash, _ string) error {
				id := insert(t, rs, remote.Debts, remote.Row{"type": "I_OWE", "person_name": "Али", "amount": "300", "currency": "UZS", "is_paid": false})
				mustLoad(t, s)
				_, err := s.ToggleDebt(ctx, id, cash)
				return err
			},
			account:     func(cash, _ string) string { return cash },
			wantBalance: "100000",
		},
		{
			name: "AddDebt",
			run: func(ctx context.Context, s *Store, _ remote.Store, cash, _ string) error {
				_, err := s.AddDebt(ctx, &model.DebtInput{Type: model.DebtOwedToMe, PersonName: "Бек", Amount: dec("1000"), Currency: model.CurrencyUZS}, cash)
				return err
			},
			account:     func(cash, _ string) string { return cash },
			wantBalance: "100000",
		},
		{
			name: "ResolveSubscription",
			run: func(ctx context.Context, s *Store, rs remote.Store, _, card string) error {
				id := insert(t, rs, remote.Subscriptions, remote.Row{"name": "Netflix", "amount": "10", "currency": "USD", "period": "MONTHLY", "category": "Подписки", "payment_day": 15})
				mustLoad(t, s)
				_, err := s.ResolveSubscription(ctx, id, card)
				return err
			},
			account:     func(_, card string) string { return card },
			wantBalance: "50",
		},
	}
	for _, tt := range tests {
		mem := remote.NewMemory().ForUser("u1")
		cash, card := seedAccounts(t, mem)
		rs := &flakyStore{Store: mem}
		s := newTestStore(rs)
		mustLoad(t, s)
		ctx := context.Background()

		rs.setFailWrite(func(kind remote.OpKind, c remote.Collection) bool {
			return kind == remote.OpInsert && c == remote.Transactions
		})
		err := tt.run(ctx, s, mem, cash, card)
		if !errors.Is(err, errInjected) {
			t.Errorf("%s: err = %v, want injected failure", tt.name, err)
		}
		if n := s.PendingRepairs(); n != 0 {
			t.Errorf("%s: PendingRepairs = %d, want 0", tt.name, n)
		}

		rs.setFailWrite(nil)
		mustLoad(t, s)
		id := tt.account(cash, card)
		if n := len(s.Snapshot().Transactions); n != 0 {
			t.Errorf("%s: len(Transactions) = %d, want 0", tt.name, n)
		}
		if got := remoteBalance(t, mem, id); !got.Equal(dec(tt.wantBalance)) {
			t.Errorf("%s: remote balance = %s, want %s", tt.name, got, tt.wantBalance)
		}
		if got := localBalance(t, s, id); !got.Equal(dec(tt.wantBalance)) {
			t.Errorf("%s: local balance = %s, want %s", tt.name, got, tt.wantBalance)
		}
	}
}

func TestFirstWriteFailureChangesNothing(t *testing.T) {
	mem := remote.NewMemory().ForUser("u1")
	cash, _ := seedAccounts(t, mem)
	id := insert(t, mem, remote.Debts, remote.Row{"type": "I_OWE", "person_name": "Али", "amount": "300", "currency": "UZS", "is_paid": false})
	rs := &flakyStore{Store: mem}
	s := newTestStore(rs)
	mustLoad(t, s)
	before := s.Snapshot()

	rs.setFailWrite(func(kind remote.OpKind, c remote.Collection) bool { return c == remote.Debts })
	if _, err := s.ToggleDebt(context.Background(), id, cash); !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	if s.Snapshot() != before {
		t.Errorf("snapshot changed after failed write")
	}
	if n := s.PendingRepairs(); n != 0 {
		t.Errorf("PendingRepairs = %d, want 0", n)
	}
}

func TestToggleDebt(t *testing.T) {
	tests := []struct {
		debtType    model.DebtType
		wantType    model.TransactionType
		wantNote    string
		wantBalance string
	}{
		{model.DebtIOwe, model.TxExpense, "Вернул долг: Али", "99700"},
		{model.DebtOwedToMe, model.TxIncome, "Мне вернули долг: Али", "100300"},
	}
	for _, tt := range tests {
		rs := remote.NewMemory().ForUser("u1")
		cash, _ := seedAccounts(t, rs)
		id := insert(t, rs, remote.Debts, remote.Row{"type": string(tt.debtType), "person_name": "Али", "amount": "300", "currency": "UZS", "is_paid": false})
		s := newTestStore(rs)
		mustLoad(t, s)
		ctx := context.Background()

		d, err := s.ToggleDebt(ctx, id, cash)
		if err != nil {
			t.Fatalf("%s: ToggleDebt: %v", tt.debtType, err)
		}
		if !d.IsPaid {
			t.Errorf("%s: IsPaid = false", tt.debtType)
		}
		txs := s.Snapshot().Transactions
		if len(txs) != 1 || txs[0].Type != tt.wantType || txs[0].Note != tt.wantNote || txs[0].Category != model.DebtsCategory {
			t.Errorf("%s: Transactions = %+v", tt.debtType, txs)
		}
		if got := localBalance(t, s, cash); !got.Equal(dec(tt.wantBalance)) {
			t.Errorf("%s: cash = %s, want %s", tt.debtType, got, tt.wantBalance)
		}

		// 支払済み → 未払いは取引を作らない
		if _, err := s.ToggleDebt(ctx, id, cash); err != nil {
			t.Fatalf("%s: ToggleDebt back: %v", tt.debtType, err)
		}
		if n := len(s.Snapshot().Transactions); n != 1 {
			t.Errorf("%s: len(Transactions) = %d after untoggle, want 1", tt.debtType, n)
		}
		if got := localBalance(t, s, cash); !got.Equal(dec(tt.wantBalance)) {
			t.Errorf("%s: cash = %s after untoggle, want %s", tt.debtType, got, tt.wantBalance)
		}

		mustLoad(t, s)
		if d, _ := s.Snapshot().Debt(id); d.IsPaid {
			t.Errorf("%s: remote debt still paid", tt.debtType)
		}
	}
}

func TestToggleDebtWithoutFunding(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	seedAccounts(t, rs)
	id := insert(t, rs, remote.Debts, remote.Row{"type": "I_OWE", "person_name": "Али", "amount": "300", "currency": "UZS"})
	s := newTestStore(rs)
	mustLoad(t, s)

	if _, err := s.ToggleDebt(context.Background(), id, ""); err != nil {
		t.Fatalf("ToggleDebt: %v", err)
	}
	if n := len(s.Snapshot().Transactions); n != 0 {
		t.Errorf("len(Transactions) = %d, want 0", n)
	}
}

func TestAddDebtWithFunding(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	cash, card := seedAccounts(t, rs)
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	d, err := s.AddDebt(ctx, &model.DebtInput{Type: model.DebtOwedToMe, PersonName: "Бек", Amount: dec("1000"), Currency: model.CurrencyUZS}, cash)
	if err != nil {
		t.Fatalf("AddDebt: %v", err)
	}
	if d.ID == "" || d.PersonName != "Бек" {
		t.Errorf("debt = %+v", d)
	}
	txs := s.Snapshot().Transactions
	if len(txs) != 1 || txs[0].Type != model.TxExpense || txs[0].Note != "Дал в долг: Бек" {
		t.Errorf("Transactions = %+v", txs)
	}
	if got := remoteBalance(t, rs, cash); !got.Equal(dec("99000")) {
		t.Errorf("remote cash = %s, want 99000", got)
	}

	_, err = s.AddDebt(ctx, &model.DebtInput{Type: model.DebtIOwe, PersonName: "Бек", Amount: dec("1000"), Currency: model.CurrencyUZS}, card)
	if _, ok := apperror.As(err); !ok {
		t.Errorf("currency mismatch err = %v, want AppError", err)
	}
}

func TestResolveSubscription(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	_, card := seedAccounts(t, rs)
	first := insert(t, rs, remote.Subscriptions, remote.Row{"name": "Netflix", "amount": "10", "currency": "USD", "period": "MONTHLY", "category": "Подписки", "payment_day": 15})
	second := insert(t, rs, remote.Subscriptions, remote.Row{"name": "iCloud", "amount": "3", "currency": "USD", "period": "MONTHLY", "category": "Подписки", "payment_day": 15})
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	if p := s.Snapshot().PendingSubscription; p == nil || p.ID != first {
		t.Fatalf("PendingSubscription = %v, want %s", p, first)
	}

	tx, err := s.ResolveSubscription(ctx, first, card)
	if err != nil {
		t.Fatalf("ResolveSubscription confirm: %v", err)
	}
	if tx == nil || tx.Note != "Подписка: Netflix" || tx.Category != "Подписки" || tx.Type != model.TxExpense {
		t.Errorf("payment = %+v", tx)
	}
	if got := localBalance(t, s, card); !got.Equal(dec("40")) {
		t.Errorf("card = %s, want 40", got)
	}
	if p := s.Snapshot().PendingSubscription; p == nil || p.ID != second {
		t.Fatalf("PendingSubscription = %v, want %s", p, second)
	}

	tx, err = s.ResolveSubscription(ctx, second, "")
	if err != nil || tx != nil {
		t.Fatalf("ResolveSubscription decline = %v, %v", tx, err)
	}
	if p := s.Snapshot().PendingSubscription; p != nil {
		t.Errorf("PendingSubscription = %v, want nil", p)
	}
	if n := len(s.Snapshot().Transactions); n != 1 {
		t.Errorf("len(Transactions) = %d, want 1", n)
	}

	// 今期は精算済みなので再取得しても通知しない
	mustLoad(t, s)
	if p := s.Snapshot().PendingSubscription; p != nil {
		t.Errorf("PendingSubscription after reload = %v, want nil", p)
	}
}

func TestAddBudgetDuplicate(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	b1, err := s.AddBudget(ctx, &model.BudgetInput{Category: "Еда", Limit: dec("500000"), Currency: model.CurrencyUZS})
	if err != nil {
		t.Fatalf("AddBudget: %v", err)
	}
	b2, err := s.AddBudget(ctx, &model.BudgetInput{Category: "Еда", Limit: dec("1"), Currency: model.CurrencyUZS})
	if err != nil {
		t.Fatalf("AddBudget duplicate: %v", err)
	}
	if b2.ID != b1.ID || !b2.Limit.Equal(dec("500000")) {
		t.Errorf("duplicate returned %+v, want %+v", b2, b1)
	}
	rows, _ := rs.FetchAll(ctx, remote.Budgets)
	if len(rows) != 1 || len(s.Snapshot().Budgets) != 1 {
		t.Errorf("budgets remote=%d local=%d, want 1", len(rows), len(s.Snapshot().Budgets))
	}
}

func TestCategories(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	taxi := model.Category{Type: model.CategoryExpense, Name: "Такси"}
	if err := s.AddCategory(ctx, taxi); err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	if err := s.AddCategory(ctx, taxi); err != nil {
		t.Fatalf("AddCategory again: %v", err)
	}
	rows, _ := rs.FetchAll(ctx, remote.Categories)
	if len(rows) != 1 {
		t.Errorf("remote categories = %d, want 1", len(rows))
	}

	err := s.DeleteCategory(ctx, model.Category{Type: model.CategoryExpense, Name: model.DebtsCategory})
	if _, ok := apperror.As(err); !ok {
		t.Errorf("DeleteCategory(Долги) err = %v, want AppError", err)
	}

	if err := s.DeleteCategory(ctx, taxi); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	if s.Snapshot().HasCategory(taxi) {
		t.Errorf("category still in snapshot")
	}
	rows, _ = rs.FetchAll(ctx, remote.Categories)
	if len(rows) != 0 {
		t.Errorf("remote categories = %d, want 0", len(rows))
	}

	// 再取得しても Долги 以外は増えない
	mustLoad(t, s)
	if want := []string{model.DebtsCategory}; !reflect.DeepEqual(s.Snapshot().ExpenseCategories, want) {
		t.Errorf("ExpenseCategories after reload = %v, want %v", s.Snapshot().ExpenseCategories, want)
	}
}

func TestSettingsUpsert(t *testing.T) {
	rs := remote.NewMemory().ForUser("u1")
	s := newTestStore(rs)
	mustLoad(t, s)
	ctx := context.Background()

	if err := s.SetTheme(ctx, model.ThemeDark); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if err := s.SetLanguage(ctx, model.LanguageUZ); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	rows, _ := rs.FetchAll(ctx, remote.UserSettings)
	if len(rows) != 1 || rows[0]["theme"] != "dark" || rows[0]["language"] != "uz" {
		t.Errorf("settings rows = %v", rows)
	}

	s.Clear(context.Background())
	snap := s.Snapshot()
	if snap.Theme != model.ThemeDark || snap.Language != model.LanguageUZ || len(snap.Accounts) != 0 {
		t.Errorf("after Clear = %+v", snap)
	}
}

func TestSync(t *testing.T) {
	mem := remote.NewMemory()
	rs := mem.ForUser("u1")
	s := newTestStore(rs)
	mustLoad(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := rs.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	done := make(chan struct{})
	go func() {
		s.Sync(ctx, changes)
		close(done)
	}()

	// 別の端末からの書き込み
	other := mem.ForUser("u1")
	insert(t, other, remote.Accounts, remote.Row{"name": "Uzcard", "type": "CARD", "currency": "UZS", "balance": "0"})

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Snapshot().Accounts) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("snapshot not refreshed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Sync did not stop")
	}
}
