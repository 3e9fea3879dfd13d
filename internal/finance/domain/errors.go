package finance

import "errors"

var (
	ErrAccountNotFound      = errors.New("finance: account not found")
	ErrAccountInactive      = errors.New("finance: account is inactive")
	ErrAccountHasPostings   = errors.New("finance: account has postings")
	ErrInvalidAccountType   = errors.New("finance: invalid account type")
	ErrNameRequired         = errors.New("finance: name required")
	ErrInvalidAmount        = errors.New("finance: amount must be positive")
	ErrInvalidPostingType   = errors.New("finance: invalid posting type")
	ErrInsufficientFunds    = errors.New("finance: insufficient funds")
	ErrCurrencyMismatch     = errors.New("finance: currency mismatch")
	ErrSameAccount          = errors.New("finance: source and target account are the same")
	ErrCategoryNotFound     = errors.New("finance: category not found")
	ErrCategoryTypeMismatch = errors.New("finance: posting type does not match category type")
	ErrCategoryExists       = errors.New("finance: category already exists")
	ErrPostingNotFound      = errors.New("finance: posting not found")
	ErrPostingLocked        = errors.New("finance: posting belongs to a transfer or invoice payment")
	ErrInvalidReference     = errors.New("finance: invalid reference type")
	ErrInvoiceNotFound      = errors.New("finance: invoice not found")
	ErrInvoiceItems         = errors.New("finance: invoice needs at least one valid item")
	ErrInvoiceZeroTotal     = errors.New("finance: invoice total must be positive")
	ErrInvoiceClosed        = errors.New("finance: invoice is paid or cancelled")
	ErrInvoiceHasPayments   = errors.New("finance: invoice has payments")
	ErrPaymentExceeds       = errors.New("finance: payment exceeds remaining balance")
	ErrInvalidPaymentMethod = errors.New("finance: invalid payment method")
	ErrInvalidInvoiceStatus = errors.New("finance: invalid invoice status")
	ErrInvoiceNumberTaken   = errors.New("finance: invoice number already used")
	ErrCustomerRequired     = errors.New("finance: customer id required")
	ErrInvalidDueDate       = errors.New("finance: due date before issue date")
)
