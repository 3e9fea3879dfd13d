package integration_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/auth"
	"erp-core/internal/eventing"
	eventingpg "erp-core/internal/eventing/infrastructure/postgres"
	financeapp "erp-core/internal/finance/application"
	finance "erp-core/internal/finance/domain"
	financepg "erp-core/internal/finance/infrastructure/postgres"
	"erp-core/internal/platform/database"
	"erp-core/internal/platform/database/dbtest"
)

type ledgerEnv struct {
	db         *database.Handle
	accounts   *financeapp.AccountService
	transfers  *financeapp.TransferOrchestrator
	invoices   *financeapp.InvoiceService
	settlement *financeapp.SettlementAllocator
}

func newLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()
	db := dbtest.Open(t, "finance",
		"invoice_payments", "invoice_items", "invoices", "finance_postings", "finance_accounts", "event_outbox")

	publisher := eventing.NewPublisher(eventingpg.NewOutboxStore(db.Primary), "tenant-it")
	ledger, err := financepg.NewLedger(db.Primary, publisher, nil)
	require.NoError(t, err)
	repo := financepg.NewRepository(db.Primary, db.Reader, publisher)
	mutator, err := financeapp.NewBalanceMutator(ledger, nil)
	require.NoError(t, err)
	catalog, err := financeapp.NewCategoryService(repo, nil)
	require.NoError(t, err)
	cats, err := catalog.Bootstrap(context.Background(), financeapp.DefaultCategoryNames())
	require.NoError(t, err)

	env := &ledgerEnv{db: db}
	env.accounts, err = financeapp.NewAccountService(repo, mutator, cats, "UAH", nil)
	require.NoError(t, err)
	env.transfers, err = financeapp.NewTransferOrchestrator(mutator, cats, nil)
	require.NoError(t, err)
	env.invoices, err = financeapp.NewInvoiceService(repo, "UAH", nil)
	require.NoError(t, err)
	env.settlement, err = financeapp.NewSettlementAllocator(mutator, cats, nil)
	require.NoError(t, err)
	return env
}

func operator() context.Context {
	return auth.WithIdentity(context.Background(), "tenant-it", auth.RoleAccountant, "it")
}

func (e *ledgerEnv) open(t *testing.T, name string, initial int64) *finance.Account {
	t.Helper()
	account, err := e.accounts.Create(operator(), financeapp.CreateAccountRequest{
		Name:           name,
		Type:           "bank",
		InitialBalance: decimal.NewFromInt(initial),
	})
	require.NoError(t, err)
	return account
}

func (e *ledgerEnv) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	account, err := e.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func (e *ledgerEnv) outboxCount(t *testing.T, eventType string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.Primary.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM event_outbox WHERE event_type = $1`, eventType).Scan(&n))
	return n
}

func TestPostgresConcurrentTransfersNeverOverdraw(t *testing.T) {
	env := newLedgerEnv(t)
	source := env.open(t, "Main", 500)
	target := env.open(t, "Savings", 0)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.transfers.Transfer(operator(), financeapp.TransferRequest{
				SourceID: source.ID,
				TargetID: target.ID,
				Amount:   decimal.NewFromInt(50),
			})
			if err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), accepted.Load())
	assert.True(t, env.balance(t, source.ID).IsZero())
	assert.True(t, env.balance(t, target.ID).Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 10, env.outboxCount(t, "ledger.transfer_completed"))

	drifts, checked, err := env.accounts.Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
	assert.GreaterOrEqual(t, checked, 2)
}

func TestPostgresOpposingTransfersDoNotDeadlock(t *testing.T) {
	env := newLedgerEnv(t)
	a := env.open(t, "A", 1000)
	b := env.open(t, "B", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.transfers.Transfer(operator(), financeapp.TransferRequest{SourceID: a.ID, TargetID: b.ID, Amount: decimal.NewFromInt(10)})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := env.transfers.Transfer(operator(), financeapp.TransferRequest{SourceID: b.ID, TargetID: a.ID, Amount: decimal.NewFromInt(10)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, env.balance(t, a.ID).Equal(decimal.NewFromInt(1000)))
	assert.True(t, env.balance(t, b.ID).Equal(decimal.NewFromInt(1000)))
}

func TestPostgresConcurrentPaymentsSettleOnce(t *testing.T) {
	env := newLedgerEnv(t)
	account := env.open(t, "Receivables", 0)
	invoice, err := env.invoices.Create(operator(), financeapp.CreateInvoiceRequest{
		CustomerID: "cust-it",
		IssueDate:  time.Now().UTC(),
		DueDate:    time.Now().UTC().AddDate(0, 1, 0),
		Status:     "sent",
		Items: []financeapp.InvoiceItemInput{{
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(300),
		}},
	})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.settlement.AddPayment(operator(), invoice.ID, financeapp.PaymentRequest{
				Amount:    decimal.NewFromInt(100),
				AccountID: account.ID,
			})
			if err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), accepted.Load())
	settled, err := env.invoices.Get(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.InvoicePaid, settled.Status)
	assert.True(t, settled.BalanceDue().IsZero())
	assert.Len(t, settled.Payments, 3)
	assert.True(t, env.balance(t, account.ID).Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 3, env.outboxCount(t, "invoice.payment_recorded"))
}
