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
	finance "erp-core/internal/finance/domain"
)

// PostingInput is the writable part of a manual posting.
type PostingInput struct {
	Type            string
	Amount          decimal.Decimal
	CategoryID      string
	AccountID       string
	Description     string
	TransactionDate time.Time
	ReferenceID     string
	ReferenceType   string
}

// PostingService records manual income and expense postings. Postings owned
// by transfers, opening balances or invoice payments are read-only here.
type PostingService struct {
	repo    finance.Repository
	mutator *BalanceMutator
	logger  *zap.Logger
}

// NewPostingService constructs a posting service.
func NewPostingService(repo finance.Repository, mutator *BalanceMutator, logger *zap.Logger) (*PostingService, error) {
	if repo == nil {
		return nil, errors.New("posting service: nil repo")
	}
	if mutator == nil {
		return nil, errors.New("posting service: nil mutator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostingService{repo: repo, mutator: mutator, logger: logger}, nil
}

// Create records a posting and applies it to the account balance.
func (s *PostingService) Create(ctx context.Context, in PostingInput) (*finance.Posting, decimal.Decimal, error) {
	posting, err := s.build(ctx, in)
	if err != nil {
		return nil, decimal.Zero, mapError(err)
	}
	posting.ID = uuid.NewString()
	posting.CreatedBy = auth.ActorFromContext(ctx)
	stored, balance, err := s.mutator.Post(ctx, *posting)
	if err != nil {
		return nil, decimal.Zero, mapError(err)
	}
	s.logger.Debug("posting created",
		zap.String("posting_id", stored.ID),
		zap.String("account_id", stored.AccountID),
		zap.String("balance", balance.StringFixed(2)),
	)
	return stored, balance, nil
}

// Get returns a posting.
func (s *PostingService) Get(ctx context.Context, id string) (*finance.Posting, error) {
	posting, err := s.repo.GetPosting(ctx, id)
	if err != nil {
		return nil, err
	}
	if posting == nil {
		return nil, mapError(finance.ErrPostingNotFound)
	}
	return posting, nil
}

// List returns a page of postings, newest first.
func (s *PostingService) List(ctx context.Context, filter finance.PostingFilter) ([]finance.Posting, int, error) {
	return s.repo.ListPostings(ctx, filter)
}

// Update replaces a manual posting. The old balance effect is reversed and
// the new one applied in the same transaction, also across accounts.
func (s *PostingService) Update(ctx context.Context, id string, in PostingInput) (*finance.Posting, error) {
	updated, err := s.build(ctx, in)
	if err != nil {
		return nil, mapError(err)
	}
	err = s.mutator.Run(ctx, func(ctx context.Context, tx *LedgerTx) error {
		old, err := tx.LockPosting(ctx, id)
		if err != nil {
			return err
		}
		if old == nil {
			return finance.ErrPostingNotFound
		}
		if old.Locked() {
			return finance.ErrPostingLocked
		}
		_, err = tx.Repost(ctx, *old, updated)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

// Delete removes a manual posting and reverses its balance effect.
func (s *PostingService) Delete(ctx context.Context, id string) error {
	err := s.mutator.Run(ctx, func(ctx context.Context, tx *LedgerTx) error {
		posting, err := tx.LockPosting(ctx, id)
		if err != nil {
			return err
		}
		if posting == nil {
			return finance.ErrPostingNotFound
		}
		if posting.Locked() {
			return finance.ErrPostingLocked
		}
		_, err = tx.Unpost(ctx, *posting)
		return err
	})
	return mapError(err)
}

func (s *PostingService) build(ctx context.Context, in PostingInput) (*finance.Posting, error) {
	postingType, err := finance.ParsePostingType(in.Type)
	if err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, finance.ErrInvalidAmount
	}
	if in.AccountID == "" {
		return nil, finance.ErrAccountNotFound
	}
	refType := finance.RefManual
	switch finance.ReferenceType(strings.TrimSpace(in.ReferenceType)) {
	case "", finance.RefManual:
	case finance.RefOrder:
		refType = finance.RefOrder
	default:
		return nil, finance.ErrInvalidReference
	}
	category, err := s.repo.GetCategory(ctx, in.CategoryID)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, finance.ErrCategoryNotFound
	}
	if category.Type != postingType {
		return nil, finance.ErrCategoryTypeMismatch
	}
	return &finance.Posting{
		Type:            postingType,
		Amount:          finance.Money(in.Amount),
		CategoryID:      category.ID,
		AccountID:       in.AccountID,
		Description:     strings.TrimSpace(in.Description),
		TransactionDate: in.TransactionDate,
		ReferenceID:     in.ReferenceID,
		ReferenceType:   refType,
	}, nil
}
