// Package memory provides an in-process ledger used by tests and local runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"erp-core/internal/eventing"
	finance "erp-core/internal/finance/domain"
)

// Store implements finance.Ledger and finance.Repository. Transactions run
// one at a time against a copy of the state that replaces it on commit.
type Store struct {
	mu     sync.Mutex
	state  *state
	outbox *eventing.MemoryOutbox
	failOn map[string]error
	now    func() time.Time
}

type state struct {
	accounts   map[string]finance.Account
	categories map[string]finance.Category
	postings   map[string]finance.Posting
	invoices   map[string]finance.Invoice
}

// NewStore constructs an empty store.
func NewStore(outbox *eventing.MemoryOutbox) *Store {
	return &Store{
		state: &state{
			accounts:   make(map[string]finance.Account),
			categories: make(map[string]finance.Category),
			postings:   make(map[string]finance.Posting),
			invoices:   make(map[string]finance.Invoice),
		},
		outbox: outbox,
		failOn: make(map[string]error),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes the named transaction step return err until cleared with nil.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, method)
		return
	}
	s.failOn[method] = err
}

// SetBalance overwrites a stored balance without a posting. It exists to
// simulate drift.
func (s *Store) SetBalance(id string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.state.accounts[id]; ok {
		account.Balance = balance
		s.state.accounts[id] = account
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx finance.BalanceTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{store: s, work: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.work
	s.publish(ctx, tx.events)
	return nil
}

func (s *Store) publish(ctx context.Context, events []eventing.Event) {
	if s.outbox == nil {
		return
	}
	for _, event := range events {
		if env, err := eventing.BuildEnvelope(ctx, event, eventing.MetaFromContext(ctx, "")); err == nil {
			s.outbox.Append(env)
		}
	}
}

type memoryTx struct {
	store  *Store
	work   *state
	events []eventing.Event
}

func (t *memoryTx) fail(method string) error {
	return t.store.failOn[method]
}

func (t *memoryTx) LockAccounts(_ context.Context, ids ...string) (map[string]finance.Account, error) {
	if err := t.fail("LockAccounts"); err != nil {
		return nil, err
	}
	out := make(map[string]finance.Account, len(ids))
	for _, id := range ids {
		if account, ok := t.work.accounts[id]; ok {
			out[id] = account
		}
	}
	return out, nil
}

func (t *memoryTx) InsertAccount(_ context.Context, account finance.Account) error {
	if err := t.fail("InsertAccount"); err != nil {
		return err
	}
	t.work.accounts[account.ID] = account
	return nil
}

func (t *memoryTx) LockPosting(_ context.Context, id string) (*finance.Posting, error) {
	posting, ok := t.work.postings[id]
	if !ok {
		return nil, nil
	}
	return &posting, nil
}

func (t *memoryTx) LockInvoice(_ context.Context, id string) (*finance.Invoice, error) {
	invoice, ok := t.work.invoices[id]
	if !ok {
		return nil, nil
	}
	clone := cloneInvoice(invoice)
	return &clone, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, payment finance.Payment) error {
	if err := t.fail("InsertPayment"); err != nil {
		return err
	}
	invoice, ok := t.work.invoices[payment.InvoiceID]
	if !ok {
		return finance.ErrInvoiceNotFound
	}
	invoice.Payments = append(invoice.Payments, payment)
	t.work.invoices[invoice.ID] = invoice
	return nil
}

func (t *memoryTx) UpdateInvoiceStatus(_ context.Context, id string, status finance.InvoiceStatus, at time.Time) error {
	if err := t.fail("UpdateInvoiceStatus"); err != nil {
		return err
	}
	invoice, ok := t.work.invoices[id]
	if !ok {
		return finance.ErrInvoiceNotFound
	}
	invoice.Status = status
	invoice.UpdatedAt = at
	t.work.invoices[id] = invoice
	return nil
}

func (t *memoryTx) CancelInvoice(_ context.Context, id, reason, by string, at time.Time) error {
	invoice, ok := t.work.invoices[id]
	if !ok {
		return finance.ErrInvoiceNotFound
	}
	invoice.Status = finance.InvoiceCancelled
	invoice.CancellationReason = reason
	invoice.CancelledBy = by
	invoice.CancelledAt = &at
	invoice.UpdatedAt = at
	t.work.invoices[id] = invoice
	return nil
}

func (t *memoryTx) Publish(_ context.Context, events ...eventing.Event) error {
	if err := t.fail("Publish"); err != nil {
		return err
	}
	t.events = append(t.events, events...)
	return nil
}

func (t *memoryTx) InsertPosting(_ context.Context, posting finance.Posting) error {
	if err := t.fail("InsertPosting"); err != nil {
		return err
	}
	t.work.postings[posting.ID] = posting
	return nil
}

func (t *memoryTx) UpdatePosting(_ context.Context, posting finance.Posting) error {
	if _, ok := t.work.postings[posting.ID]; !ok {
		return finance.ErrPostingNotFound
	}
	t.work.postings[posting.ID] = posting
	return nil
}

func (t *memoryTx) DeletePosting(_ context.Context, id string) error {
	if _, ok := t.work.postings[id]; !ok {
		return finance.ErrPostingNotFound
	}
	delete(t.work.postings, id)
	return nil
}

func (t *memoryTx) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal, requireCovered bool) (decimal.Decimal, error) {
	if err := t.fail("AdjustBalance"); err != nil {
		return decimal.Zero, err
	}
	account, ok := t.work.accounts[accountID]
	if !ok {
		return decimal.Zero, finance.ErrAccountNotFound
	}
	next := account.Balance.Add(delta)
	if requireCovered && next.IsNegative() {
		return decimal.Zero, finance.ErrInsufficientFunds
	}
	account.Balance = next
	account.UpdatedAt = t.store.now()
	t.work.accounts[accountID] = account
	return next, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*finance.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.state.accounts[id]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (s *Store) ListAccounts(_ context.Context, filter finance.AccountFilter) ([]finance.Account, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []finance.Account
	for _, account := range s.state.accounts {
		if filter.Type != "" && account.Type != filter.Type {
			continue
		}
		if filter.Currency != "" && account.Currency != strings.ToUpper(filter.Currency) {
			continue
		}
		if filter.Active != nil && account.IsActive != *filter.Active {
			continue
		}
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	return page(out, filter.Limit, filter.Offset), total, nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, details finance.AccountDetails, at time.Time) (*finance.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.state.accounts[id]
	if !ok {
		return nil, nil
	}
	details.Apply(&account)
	account.UpdatedAt = at
	s.state.accounts[id] = account
	return &account, nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.accounts[id]; !ok {
		return finance.ErrAccountNotFound
	}
	for _, p := range s.state.postings {
		if p.AccountID == id || p.CounterpartyAccountID == id {
			return finance.ErrAccountHasPostings
		}
	}
	delete(s.state.accounts, id)
	return nil
}

func (s *Store) ListCategories(_ context.Context, kind finance.PostingType) ([]finance.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []finance.Category
	for _, c := range s.state.categories {
		if kind != "" && c.Type != kind {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*finance.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) EnsureCategory(_ context.Context, name string, kind finance.PostingType) (*finance.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.findCategory(name, kind); ok {
		return &c, nil
	}
	c := finance.Category{ID: uuid.NewString(), Name: name, Type: kind, CreatedAt: s.now()}
	s.state.categories[c.ID] = c
	return &c, nil
}

func (s *Store) CreateCategory(_ context.Context, category finance.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findCategory(category.Name, category.Type); ok {
		return finance.ErrCategoryExists
	}
	s.state.categories[category.ID] = category
	return nil
}

func (s *Store) findCategory(name string, kind finance.PostingType) (finance.Category, bool) {
	for _, c := range s.state.categories {
		if c.Name == name && c.Type == kind {
			return c, true
		}
	}
	return finance.Category{}, false
}

func (s *Store) GetPosting(_ context.Context, id string) (*finance.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.postings[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPostings(_ context.Context, filter finance.PostingFilter) ([]finance.Posting, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []finance.Posting
	for _, p := range s.state.postings {
		if !matchPosting(p, filter) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	total := len(out)
	return page(out, filter.Limit, filter.Offset), total, nil
}

func (s *Store) PostingsBetween(_ context.Context, accountID string, from, to time.Time) (decimal.Decimal, []finance.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opening := decimal.Zero
	var out []finance.Posting
	for _, p := range s.state.postings {
		if p.AccountID != accountID {
			continue
		}
		switch {
		case !from.IsZero() && p.TransactionDate.Before(from):
			opening = opening.Add(p.Delta())
		case to.IsZero() || p.TransactionDate.Before(to):
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[j], out[i]) })
	return opening, out, nil
}

func (s *Store) Balances(_ context.Context) ([]finance.AccountBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAccount := make(map[string][]finance.Posting)
	for _, p := range s.state.postings {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}
	out := make([]finance.AccountBalance, 0, len(s.state.accounts))
	for _, account := range s.state.accounts {
		postings := byAccount[account.ID]
		out = append(out, finance.AccountBalance{
			AccountID: account.ID,
			Name:      account.Name,
			Currency:  account.Currency,
			Stored:    account.Balance,
			Replayed:  finance.Replay(postings),
			Postings:  len(postings),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice *finance.Invoice, events ...eventing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if invoice.Number == "" {
		invoice.Number = s.nextNumber(invoice.IssueDate)
	}
	for _, existing := range s.state.invoices {
		if existing.Number == invoice.Number {
			return finance.ErrInvoiceNumberTaken
		}
	}
	for _, event := range events {
		if numbered, ok := event.(finance.NumberedEvent); ok {
			numbered.AssignInvoiceNumber(invoice.Number)
		}
	}
	s.state.invoices[invoice.ID] = cloneInvoice(*invoice)
	s.publish(ctx, events)
	return nil
}

func (s *Store) nextNumber(issued time.Time) string {
	prefix := finance.InvoiceNumberPrefix(issued)
	seq := 0
	for _, inv := range s.state.invoices {
		if !strings.HasPrefix(inv.Number, prefix) {
			continue
		}
		var n int
		for _, r := range strings.TrimPrefix(inv.Number, prefix) {
			if r < '0' || r > '9' {
				n = 0
				break
			}
			n = n*10 + int(r-'0')
		}
		seq = max(seq, n)
	}
	return finance.FormatInvoiceNumber(issued, seq+1)
}

func (s *Store) GetInvoice(_ context.Context, id string) (*finance.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.state.invoices[id]
	if !ok {
		return nil, nil
	}
	clone := cloneInvoice(invoice)
	return &clone, nil
}

func (s *Store) ListInvoices(_ context.Context, filter finance.InvoiceFilter) ([]finance.Invoice, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []finance.Invoice
	for _, inv := range s.state.invoices {
		if filter.Status != "" && inv.EffectiveStatus(now) != filter.Status {
			continue
		}
		if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
			continue
		}
		if !filter.From.IsZero() && inv.IssueDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && inv.IssueDate.After(filter.To) {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return out[i].Number > out[j].Number
	})
	total := len(out)
	return page(out, filter.Limit, filter.Offset), total, nil
}

func (s *Store) ReplaceInvoice(ctx context.Context, invoice *finance.Invoice, allowed []finance.InvoiceStatus, events ...eventing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.invoices[invoice.ID]
	if !ok {
		return finance.ErrInvoiceNotFound
	}
	if len(current.Payments) > 0 {
		return finance.ErrInvoiceHasPayments
	}
	if !slices.Contains(allowed, current.Status) {
		return finance.ErrInvoiceClosed
	}
	next := cloneInvoice(*invoice)
	next.Status = current.Status
	next.Payments = nil
	s.state.invoices[invoice.ID] = next
	s.publish(ctx, events)
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string, events ...eventing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.invoices[id]
	if !ok {
		return finance.ErrInvoiceNotFound
	}
	if len(current.Payments) > 0 {
		return finance.ErrInvoiceHasPayments
	}
	if current.Status == finance.InvoicePaid {
		return finance.ErrInvoiceClosed
	}
	delete(s.state.invoices, id)
	s.publish(ctx, events)
	return nil
}

func (s *Store) SetInvoiceStatus(ctx context.Context, id string, from, to finance.InvoiceStatus, at time.Time, events ...eventing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.invoices[id]
	if !ok {
		return finance.ErrInvoiceNotFound
	}
	if current.Status != from {
		return finance.ErrInvalidInvoiceStatus
	}
	current.Status = to
	current.UpdatedAt = at
	s.state.invoices[id] = current
	s.publish(ctx, events)
	return nil
}

func (s *Store) Payments(_ context.Context, invoiceID string) ([]finance.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.state.invoices[invoiceID]
	if !ok {
		return nil, nil
	}
	return append([]finance.Payment(nil), invoice.Payments...), nil
}

func (st *state) clone() *state {
	out := &state{
		accounts:   make(map[string]finance.Account, len(st.accounts)),
		categories: make(map[string]finance.Category, len(st.categories)),
		postings:   make(map[string]finance.Posting, len(st.postings)),
		invoices:   make(map[string]finance.Invoice, len(st.invoices)),
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.categories {
		out.categories[k] = v
	}
	for k, v := range st.postings {
		out.postings[k] = v
	}
	for k, v := range st.invoices {
		out.invoices[k] = cloneInvoice(v)
	}
	return out
}

func cloneInvoice(inv finance.Invoice) finance.Invoice {
	inv.Items = append([]finance.InvoiceItem(nil), inv.Items...)
	inv.Payments = append([]finance.Payment(nil), inv.Payments...)
	return inv
}

func matchPosting(p finance.Posting, f finance.PostingFilter) bool {
	switch {
	case f.Type != "" && p.Type != f.Type:
		return false
	case f.CategoryID != "" && p.CategoryID != f.CategoryID:
		return false
	case f.AccountID != "" && p.AccountID != f.AccountID:
		return false
	case !f.From.IsZero() && p.TransactionDate.Before(f.From):
		return false
	case !f.To.IsZero() && p.TransactionDate.After(f.To):
		return false
	case f.MinAmount != nil && p.Amount.LessThan(*f.MinAmount):
		return false
	case f.MaxAmount != nil && p.Amount.GreaterThan(*f.MaxAmount):
		return false
	}
	return true
}

func newer(a, b finance.Posting) bool {
	if !a.TransactionDate.Equal(b.TransactionDate) {
		return a.TransactionDate.After(b.TransactionDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
