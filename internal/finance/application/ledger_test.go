package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/auth"
	"erp-core/internal/eventing"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/finance/infrastructure/memory"
	"erp-core/internal/platform/apperr"
)

type fixture struct {
	store      *memory.Store
	outbox     *eventing.MemoryOutbox
	categories SystemCategories
	catalog    *CategoryService
	accounts   *AccountService
	postings   *PostingService
	transfers  *TransferOrchestrator
	invoices   *InvoiceService
	settlement *SettlementAllocator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	outbox := eventing.NewMemoryOutbox()
	store := memory.NewStore(outbox)
	mutator, err := NewBalanceMutator(store, nil)
	require.NoError(t, err)
	catalog, err := NewCategoryService(store, nil)
	require.NoError(t, err)
	cats, err := catalog.Bootstrap(context.Background(), DefaultCategoryNames())
	require.NoError(t, err)

	f := &fixture{store: store, outbox: outbox, categories: cats, catalog: catalog}
	f.accounts, err = NewAccountService(store, mutator, cats, "UAH", nil)
	require.NoError(t, err)
	f.postings, err = NewPostingService(store, mutator, nil)
	require.NoError(t, err)
	f.transfers, err = NewTransferOrchestrator(mutator, cats, nil)
	require.NoError(t, err)
	f.invoices, err = NewInvoiceService(store, "UAH", nil)
	require.NoError(t, err)
	f.settlement, err = NewSettlementAllocator(mutator, cats, nil)
	require.NoError(t, err)
	return f
}

func ctxAs(subject string) context.Context {
	return auth.WithIdentity(context.Background(), "tenant-1", auth.RoleAccountant, subject)
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func appCode(kind apperr.Kind, code string) error {
	return &apperr.Error{Kind: kind, Code: code}
}

func (f *fixture) openAccount(t *testing.T, name, currency, initial string) *finance.Account {
	t.Helper()
	account, err := f.accounts.Create(ctxAs("alice"), CreateAccountRequest{
		Name:           name,
		Type:           "bank",
		Currency:       currency,
		InitialBalance: dec(initial),
	})
	require.NoError(t, err)
	return account
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	account, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func (f *fixture) assertNoDrift(t *testing.T) {
	t.Helper()
	drifts, checked, err := f.accounts.Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
	assert.Positive(t, checked)
}

func category(t *testing.T, f *fixture, name, kind string) string {
	t.Helper()
	c, err := f.catalog.Create(context.Background(), name, kind)
	require.NoError(t, err)
	return c.ID
}

func TestAccountCreateRecordsOpeningPosting(t *testing.T) {
	f := newFixture(t)
	account := f.openAccount(t, "Main", "", "500")

	assert.Equal(t, "UAH", account.Currency)
	assert.True(t, account.Balance.Equal(dec("500")))

	postings, total, err := f.accounts.Postings(context.Background(), account.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, finance.Income, postings[0].Type)
	assert.Equal(t, f.categories.InitialBalance, postings[0].CategoryID)
	assert.Equal(t, finance.RefAccount, postings[0].ReferenceType)
	assert.Equal(t, "alice", postings[0].CreatedBy)
	assert.Contains(t, f.outbox.EventTypes(), "ledger.account_created")
	f.assertNoDrift(t)
}

func TestAccountCreateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.Create(context.Background(), CreateAccountRequest{Name: " "})
	assert.ErrorIs(t, err, appCode(apperr.KindBadRequest, "name_required"))

	_, err = f.accounts.Create(context.Background(), CreateAccountRequest{Name: "X", Type: "crypto"})
	assert.ErrorIs(t, err, appCode(apperr.KindBadRequest, "invalid_account_type"))

	_, err = f.accounts.Create(context.Background(), CreateAccountRequest{Name: "X", InitialBalance: dec("-1")})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestTransferMovesFunds(t *testing.T) {
	f := newFixture(t)
	source := f.openAccount(t, "Main", "UAH", "500")
	target := f.openAccount(t, "Savings", "UAH", "0")

	result, err := f.transfers.Transfer(ctxAs("alice"), TransferRequest{SourceID: source.ID, TargetID: target.ID, Amount: dec("100")})
	require.NoError(t, err)

	assert.True(t, result.Source.Balance.Equal(dec("400")))
	assert.True(t, result.Target.Balance.Equal(dec("100")))
	assert.Equal(t, finance.Expense, result.Debit.Type)
	assert.Equal(t, finance.Income, result.Credit.Type)
	assert.Equal(t, "Transfer to Savings", result.Debit.Description)
	assert.Equal(t, "Transfer from Main", result.Credit.Description)
	assert.Equal(t, target.ID, result.Debit.CounterpartyAccountID)
	assert.Equal(t, finance.RefAccount, result.Credit.ReferenceType)

	assert.True(t, f.balance(t, source.ID).Equal(dec("400")))
	assert.True(t, f.balance(t, target.ID).Equal(dec("100")))
	assert.Contains(t, f.outbox.EventTypes(), "ledger.transfer_completed")
	f.assertNoDrift(t)
}

func TestTransferRejections(t *testing.T) {
	f := newFixture(t)
	main := f.openAccount(t, "Main", "UAH", "50")
	other := f.openAccount(t, "Other", "UAH", "0")
	dollars := f.openAccount(t, "Dollars", "USD", "0")
	closed := f.openAccount(t, "Closed", "UAH", "0")
	inactive := false
	_, err := f.accounts.Update(context.Background(), closed.ID, finance.AccountDetails{IsActive: &inactive})
	require.NoError(t, err)

	cases := []struct {
		name string
		req  TransferRequest
		want error
	}{
		{"same account", TransferRequest{SourceID: main.ID, TargetID: main.ID, Amount: dec("1")}, appCode(apperr.KindBadRequest, "same_account")},
		{"zero amount", TransferRequest{SourceID: main.ID, TargetID: other.ID, Amount: decimal.Zero}, appCode(apperr.KindBadRequest, "invalid_amount")},
		{"insufficient funds", TransferRequest{SourceID: main.ID, TargetID: other.ID, Amount: dec("100")}, appCode(apperr.KindBadRequest, "insufficient_funds")},
		{"currency mismatch", TransferRequest{SourceID: main.ID, TargetID: dollars.ID, Amount: dec("10")}, appCode(apperr.KindBadRequest, "currency_mismatch")},
		{"inactive target", TransferRequest{SourceID: main.ID, TargetID: closed.ID, Amount: dec("10")}, appCode(apperr.KindBadRequest, "account_inactive")},
		{"missing target", TransferRequest{SourceID: main.ID, TargetID: "nope", Amount: dec("10")}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.transfers.Transfer(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.True(t, f.balance(t, main.ID).Equal(dec("50")))
	assert.True(t, f.balance(t, other.ID).IsZero())
	f.assertNoDrift(t)
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	source := f.openAccount(t, "Main", "UAH", "100")
	target := f.openAccount(t, "Savings", "UAH", "0")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.transfers.Transfer(context.Background(), TransferRequest{SourceID: source.ID, TargetID: target.ID, Amount: dec("10")})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, appCode(apperr.KindBadRequest, "insufficient_funds"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.True(t, f.balance(t, source.ID).IsZero())
	assert.True(t, f.balance(t, target.ID).Equal(dec("100")))
	f.assertNoDrift(t)
}

func TestPostingsKeepBalanceEqualToReplay(t *testing.T) {
	f := newFixture(t)
	account := f.openAccount(t, "Main", "UAH", "100")
	other := f.openAccount(t, "Cash", "UAH", "0")
	sales := category(t, f, "Sales", "income")
	rent := category(t, f, "Rent", "expense")
	ctx := ctxAs("bob")

	income, balance, err := f.postings.Create(ctx, PostingInput{Type: "income", Amount: dec("200"), CategoryID: sales, AccountID: account.ID})
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("300")))
	assert.Equal(t, finance.RefManual, income.ReferenceType)
	assert.Equal(t, "bob", income.CreatedBy)

	expense, balance, err := f.postings.Create(ctx, PostingInput{Type: "expense", Amount: dec("50"), CategoryID: rent, AccountID: account.ID, ReferenceType: "order", ReferenceID: "ord-1"})
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("250")))

	_, err = f.postings.Update(ctx, expense.ID, PostingInput{Type: "expense", Amount: dec("70"), CategoryID: rent, AccountID: account.ID})
	require.NoError(t, err)
	assert.True(t, f.balance(t, account.ID).Equal(dec("230")))

	_, err = f.postings.Update(ctx, expense.ID, PostingInput{Type: "expense", Amount: dec("70"), CategoryID: rent, AccountID: other.ID})
	require.NoError(t, err)
	assert.True(t, f.balance(t, account.ID).Equal(dec("300")))
	assert.True(t, f.balance(t, other.ID).Equal(dec("-70")))

	require.NoError(t, f.postings.Delete(ctx, income.ID))
	assert.True(t, f.balance(t, account.ID).Equal(dec("100")))

	_, err = f.postings.Get(ctx, income.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, f.outbox.EventTypes(), "ledger.posting_updated")
	assert.Contains(t, f.outbox.EventTypes(), "ledger.posting_deleted")
	f.assertNoDrift(t)
}

func TestPostingValidation(t *testing.T) {
	f := newFixture(t)
	account := f.openAccount(t, "Main", "UAH", "0")
	sales := category(t, f, "Sales", "income")

	cases := []struct {
		name string
		in   PostingInput
		want error
	}{
		{"category type mismatch", PostingInput{Type: "expense", Amount: dec("1"), CategoryID: sales, AccountID: account.ID}, appCode(apperr.KindBadRequest, "category_type_mismatch")},
		{"bad type", PostingInput{Type: "gift", Amount: dec("1"), CategoryID: sales, AccountID: account.ID}, appCode(apperr.KindBadRequest, "invalid_type")},
		{"zero amount", PostingInput{Type: "income", Amount: decimal.Zero, CategoryID: sales, AccountID: account.ID}, appCode(apperr.KindBadRequest, "invalid_amount")},
		{"reserved reference", PostingInput{Type: "income", Amount: dec("1"), CategoryID: sales, AccountID: account.ID, ReferenceType: "invoice"}, appCode(apperr.KindBadRequest, "invalid_reference_type")},
		{"unknown category", PostingInput{Type: "income", Amount: dec("1"), CategoryID: "nope", AccountID: account.ID}, apperr.ErrNotFound},
		{"unknown account", PostingInput{Type: "income", Amount: dec("1"), CategoryID: sales, AccountID: "nope"}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.postings.Create(context.Background(), tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.True(t, f.balance(t, account.ID).IsZero())
}

func TestTransferPostingsAreLocked(t *testing.T) {
	f := newFixture(t)
	source := f.openAccount(t, "Main", "UAH", "100")
	target := f.openAccount(t, "Savings", "UAH", "0")
	result, err := f.transfers.Transfer(context.Background(), TransferRequest{SourceID: source.ID, TargetID: target.ID, Amount: dec("40")})
	require.NoError(t, err)

	err = f.postings.Delete(context.Background(), result.Debit.ID)
	assert.ErrorIs(t, err, appCode(apperr.KindConflict, "transaction_locked"))

	_, err = f.postings.Update(context.Background(), result.Credit.ID, PostingInput{Type: "income", Amount: dec("1"), CategoryID: f.categories.TransferIn, AccountID: target.ID})
	assert.ErrorIs(t, err, appCode(apperr.KindConflict, "transaction_locked"))
	assert.True(t, f.balance(t, source.ID).Equal(dec("60")))
}

func TestFailedPostingLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	account := f.openAccount(t, "Main", "UAH", "100")
	sales := category(t, f, "Sales", "income")
	events := len(f.outbox.EventTypes())

	f.store.FailOn("InsertPosting", errors.New("disk full"))
	_, _, err := f.postings.Create(context.Background(), PostingInput{Type: "income", Amount: dec("25"), CategoryID: sales, AccountID: account.ID})
	require.Error(t, err)
	f.store.FailOn("InsertPosting", nil)

	assert.True(t, f.balance(t, account.ID).Equal(dec("100")))
	_, total, err := f.postings.List(context.Background(), finance.PostingFilter{AccountID: account.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, f.outbox.EventTypes(), events)
	f.assertNoDrift(t)
}

func TestVerifyReportsDrift(t *testing.T) {
	f := newFixture(t)
	account := f.openAccount(t, "Main", "UAH", "100")
	f.store.SetBalance(account.ID, dec("90"))

	drifts, checked, err := f.accounts.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	require.Len(t, drifts, 1)
	assert.Equal(t, account.ID, drifts[0].AccountID)
	assert.True(t, drifts[0].Difference.Equal(dec("-10")))
}

func TestDeleteAccountRequiresNoPostings(t *testing.T) {
	f := newFixture(t)
	funded := f.openAccount(t, "Main", "UAH", "100")
	empty := f.openAccount(t, "Empty", "UAH", "0")

	err := f.accounts.Delete(context.Background(), funded.ID)
	assert.ErrorIs(t, err, appCode(apperr.KindConflict, "account_has_transactions"))

	require.NoError(t, f.accounts.Delete(context.Background(), empty.ID))
	_, err = f.accounts.Get(context.Background(), empty.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStatementRunningBalance(t *testing.T) {
	f := newFixture(t)
	source := f.openAccount(t, "Main", "UAH", "500")
	target := f.openAccount(t, "Savings", "UAH", "0")
	_, err := f.transfers.Transfer(context.Background(), TransferRequest{SourceID: source.ID, TargetID: target.ID, Amount: dec("100")})
	require.NoError(t, err)

	stmt, err := f.accounts.Statement(context.Background(), source.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, stmt.Opening.IsZero())
	assert.True(t, stmt.Closing.Equal(dec("400")))
	assert.Len(t, stmt.Lines, 2)
}

func TestCategoryBootstrapIsIdempotent(t *testing.T) {
	f := newFixture(t)
	again, err := f.catalog.Bootstrap(context.Background(), CategoryNames{})
	require.NoError(t, err)
	assert.Equal(t, f.categories, again)

	_, err = f.catalog.Create(context.Background(), "Transfer In", "income")
	assert.ErrorIs(t, err, appCode(apperr.KindConflict, "category_exists"))

	list, err := f.catalog.List(context.Background(), "expense")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Transfer Out", list[0].Name)
}
