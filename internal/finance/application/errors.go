package application

import (
	"errors"
	"strings"

	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/apperr"
)

type errorMapping struct {
	err  error
	kind apperr.Kind
	code string
}

var errorTable = []errorMapping{
	{finance.ErrAccountNotFound, apperr.KindNotFound, "account_not_found"},
	{finance.ErrCategoryNotFound, apperr.KindNotFound, "category_not_found"},
	{finance.ErrPostingNotFound, apperr.KindNotFound, "transaction_not_found"},
	{finance.ErrInvoiceNotFound, apperr.KindNotFound, "invoice_not_found"},

	{finance.ErrAccountInactive, apperr.KindBadRequest, "account_inactive"},
	{finance.ErrInvalidAccountType, apperr.KindBadRequest, "invalid_account_type"},
	{finance.ErrNameRequired, apperr.KindBadRequest, "name_required"},
	{finance.ErrInvalidAmount, apperr.KindBadRequest, "invalid_amount"},
	{finance.ErrInvalidPostingType, apperr.KindBadRequest, "invalid_type"},
	{finance.ErrInsufficientFunds, apperr.KindBadRequest, "insufficient_funds"},
	{finance.ErrCurrencyMismatch, apperr.KindBadRequest, "currency_mismatch"},
	{finance.ErrSameAccount, apperr.KindBadRequest, "same_account"},
	{finance.ErrCategoryTypeMismatch, apperr.KindBadRequest, "category_type_mismatch"},
	{finance.ErrInvalidReference, apperr.KindBadRequest, "invalid_reference_type"},
	{finance.ErrInvoiceItems, apperr.KindBadRequest, "invalid_items"},
	{finance.ErrInvoiceZeroTotal, apperr.KindBadRequest, "zero_total"},
	{finance.ErrPaymentExceeds, apperr.KindBadRequest, "payment_exceeds_remaining"},
	{finance.ErrInvalidPaymentMethod, apperr.KindBadRequest, "invalid_payment_method"},
	{finance.ErrInvalidInvoiceStatus, apperr.KindBadRequest, "invalid_status"},
	{finance.ErrCustomerRequired, apperr.KindBadRequest, "customer_required"},
	{finance.ErrInvalidDueDate, apperr.KindBadRequest, "invalid_due_date"},

	{finance.ErrAccountHasPostings, apperr.KindConflict, "account_has_transactions"},
	{finance.ErrCategoryExists, apperr.KindConflict, "category_exists"},
	{finance.ErrPostingLocked, apperr.KindConflict, "transaction_locked"},
	{finance.ErrInvoiceClosed, apperr.KindConflict, "invoice_closed"},
	{finance.ErrInvoiceHasPayments, apperr.KindConflict, "invoice_has_payments"},
	{finance.ErrInvoiceNumberTaken, apperr.KindConflict, "invoice_number_taken"},
}

// mapError classifies finance sentinels. Errors that already carry a kind
// and unknown errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return apperr.Wrap(m.kind, m.code, err, strings.TrimPrefix(err.Error(), "finance: "))
		}
	}
	return err
}
