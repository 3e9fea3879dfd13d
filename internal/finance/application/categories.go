package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	finance "erp-core/internal/finance/domain"
)

// CategoryNames are the system categories ensured at startup.
type CategoryNames struct {
	InitialBalance string
	TransferOut    string
	TransferIn     string
	InvoicePayment string
}

// DefaultCategoryNames returns the built-in names.
func DefaultCategoryNames() CategoryNames {
	return CategoryNames{
		InitialBalance: "Initial Balance",
		TransferOut:    "Transfer Out",
		TransferIn:     "Transfer In",
		InvoicePayment: "Invoice Payment",
	}
}

// SystemCategories holds the resolved ids of the system categories.
type SystemCategories struct {
	InitialBalance string
	TransferOut    string
	TransferIn     string
	InvoicePayment string
}

// CategoryService manages posting categories.
type CategoryService struct {
	repo   finance.Repository
	logger *zap.Logger
}

// NewCategoryService constructs a category service.
func NewCategoryService(repo finance.Repository, logger *zap.Logger) (*CategoryService, error) {
	if repo == nil {
		return nil, errors.New("category service: nil repo")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryService{repo: repo, logger: logger}, nil
}

// Bootstrap ensures the system categories exist and returns their ids.
// It is safe to run concurrently from several instances.
func (s *CategoryService) Bootstrap(ctx context.Context, names CategoryNames) (SystemCategories, error) {
	defaults := DefaultCategoryNames()
	var (
		out SystemCategories
		err error
	)
	ensure := func(dst *string, name, def string, kind finance.PostingType) {
		if err != nil {
			return
		}
		if strings.TrimSpace(name) == "" {
			name = def
		}
		var category *finance.Category
		category, err = s.repo.EnsureCategory(ctx, name, kind)
		if err == nil {
			*dst = category.ID
		}
	}
	ensure(&out.InitialBalance, names.InitialBalance, defaults.InitialBalance, finance.Income)
	ensure(&out.TransferOut, names.TransferOut, defaults.TransferOut, finance.Expense)
	ensure(&out.TransferIn, names.TransferIn, defaults.TransferIn, finance.Income)
	ensure(&out.InvoicePayment, names.InvoicePayment, defaults.InvoicePayment, finance.Income)
	if err != nil {
		return SystemCategories{}, err
	}
	s.logger.Info("system categories ready",
		zap.String("initial_balance", out.InitialBalance),
		zap.String("transfer_out", out.TransferOut),
		zap.String("transfer_in", out.TransferIn),
		zap.String("invoice_payment", out.InvoicePayment),
	)
	return out, nil
}

// List returns categories, optionally of one type.
func (s *CategoryService) List(ctx context.Context, kind string) ([]finance.Category, error) {
	var filter finance.PostingType
	if kind != "" {
		parsed, err := finance.ParsePostingType(kind)
		if err != nil {
			return nil, mapError(err)
		}
		filter = parsed
	}
	return s.repo.ListCategories(ctx, filter)
}

// Create adds a category. (name, type) must be unique.
func (s *CategoryService) Create(ctx context.Context, name, kind string) (*finance.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, mapError(finance.ErrNameRequired)
	}
	postingType, err := finance.ParsePostingType(kind)
	if err != nil {
		return nil, mapError(err)
	}
	category := finance.Category{ID: uuid.NewString(), Name: name, Type: postingType, CreatedAt: time.Now().UTC()}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		return nil, mapError(err)
	}
	return &category, nil
}
