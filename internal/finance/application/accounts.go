package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erp-core/internal/auth"
	finevents "erp-core/internal/finance/application/events"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/apperr"
)

// CreateAccountRequest is the input of AccountService.Create.
type CreateAccountRequest struct {
	Name           string
	Type           string
	Currency       string
	InitialBalance decimal.Decimal
	Description    string
}

// Statement is an account's postings over a period with running balances.
type Statement struct {
	Account  finance.Account
	From     time.Time
	To       time.Time
	Opening  decimal.Decimal
	Closing  decimal.Decimal
	Lines    []StatementLine
	Currency string
}

// StatementLine is one posting with the balance after it.
type StatementLine struct {
	Posting finance.Posting
	Balance decimal.Decimal
}

// AccountService manages accounts. Balances change only through the
// mutator.
type AccountService struct {
	repo            finance.Repository
	mutator         *BalanceMutator
	categories      SystemCategories
	defaultCurrency string
	logger          *zap.Logger
}

// NewAccountService constructs an account service.
func NewAccountService(repo finance.Repository, mutator *BalanceMutator, categories SystemCategories, defaultCurrency string, logger *zap.Logger) (*AccountService, error) {
	if repo == nil {
		return nil, errors.New("account service: nil repo")
	}
	if mutator == nil {
		return nil, errors.New("account service: nil mutator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCurrency == "" {
		defaultCurrency = "UAH"
	}
	return &AccountService{repo: repo, mutator: mutator, categories: categories, defaultCurrency: defaultCurrency, logger: logger}, nil
}

// Create opens an account. A positive initial balance is recorded as an
// income posting so the balance is explained by postings from the start.
func (s *AccountService) Create(ctx context.Context, req CreateAccountRequest) (*finance.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, mapError(finance.ErrNameRequired)
	}
	accountType, err := finance.ParseAccountType(req.Type)
	if err != nil {
		return nil, mapError(err)
	}
	initial := finance.Money(req.InitialBalance)
	if initial.IsNegative() {
		return nil, apperr.BadRequest("invalid_initial_balance", "initial balance must not be negative")
	}

	account := finance.Account{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           accountType,
		Currency:       finance.NormalizeCurrency(req.Currency, s.defaultCurrency),
		InitialBalance: initial,
		Balance:        decimal.Zero,
		IsActive:       true,
		Description:    req.Description,
	}
	err = s.mutator.Run(ctx, func(ctx context.Context, tx *LedgerTx) error {
		account.CreatedAt = tx.Now()
		account.UpdatedAt = tx.Now()
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		if initial.IsPositive() {
			balance, err := tx.Post(ctx, &finance.Posting{
				ID:            uuid.NewString(),
				Type:          finance.Income,
				Amount:        initial,
				CategoryID:    s.categories.InitialBalance,
				AccountID:     account.ID,
				Description:   "Initial balance",
				ReferenceID:   account.ID,
				ReferenceType: finance.RefAccount,
				CreatedBy:     auth.ActorFromContext(ctx),
			})
			if err != nil {
				return err
			}
			account.Balance = balance
		}
		return tx.Publish(ctx, finevents.AccountCreated{
			AccountID:      account.ID,
			Name:           account.Name,
			Currency:       account.Currency,
			InitialBalance: initial,
			OccurredAt:     tx.Now(),
		})
	})
	if err != nil {
		return nil, mapError(err)
	}
	s.logger.Info("account created", zap.String("account_id", account.ID), zap.String("currency", account.Currency))
	return &account, nil
}

// Get returns an account.
func (s *AccountService) Get(ctx context.Context, id string) (*finance.Account, error) {
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, mapError(finance.ErrAccountNotFound)
	}
	return account, nil
}

// List returns a page of accounts.
func (s *AccountService) List(ctx context.Context, filter finance.AccountFilter) ([]finance.Account, int, error) {
	return s.repo.ListAccounts(ctx, filter)
}

// Update changes name, description or the active flag. Balances are not
// writable.
func (s *AccountService) Update(ctx context.Context, id string, details finance.AccountDetails) (*finance.Account, error) {
	if details.Name != nil && strings.TrimSpace(*details.Name) == "" {
		return nil, mapError(finance.ErrNameRequired)
	}
	account, err := s.repo.UpdateAccount(ctx, id, details, time.Now().UTC())
	if err != nil {
		return nil, mapError(err)
	}
	if account == nil {
		return nil, mapError(finance.ErrAccountNotFound)
	}
	return account, nil
}

// Delete removes an account that has no postings.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	return mapError(s.repo.DeleteAccount(ctx, id))
}

// Postings returns a page of the account's postings, newest first.
func (s *AccountService) Postings(ctx context.Context, id string, limit, offset int) ([]finance.Posting, int, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.repo.ListPostings(ctx, finance.PostingFilter{AccountID: id, Limit: limit, Offset: offset})
}

// Statement builds the account statement for [from, to). Zero bounds mean
// from the first posting and up to now.
func (s *AccountService) Statement(ctx context.Context, id string, from, to time.Time) (*Statement, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Second)
	}
	if !from.IsZero() && !to.After(from) {
		return nil, apperr.BadRequest("invalid_period", "to must be after from")
	}
	opening, postings, err := s.repo.PostingsBetween(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	stmt := &Statement{Account: *account, From: from, To: to, Opening: opening, Currency: account.Currency}
	running := opening
	for _, p := range postings {
		running = running.Add(p.Delta())
		stmt.Lines = append(stmt.Lines, StatementLine{Posting: p, Balance: running})
	}
	stmt.Closing = running
	return stmt, nil
}

// Drift is an account whose stored balance differs from its postings.
type Drift struct {
	finance.AccountBalance
	Difference decimal.Decimal
}

// Verify replays every account's postings and reports drifts. It never
// repairs.
func (s *AccountService) Verify(ctx context.Context) ([]Drift, int, error) {
	balances, err := s.repo.Balances(ctx)
	if err != nil {
		return nil, 0, err
	}
	var drifts []Drift
	for _, b := range balances {
		if !b.Stored.Equal(b.Replayed) {
			drifts = append(drifts, Drift{AccountBalance: b, Difference: b.Stored.Sub(b.Replayed)})
		}
	}
	return drifts, len(balances), nil
}
