package erpcore

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	financeapp "erp-core/internal/finance/application"
	financepg "erp-core/internal/finance/infrastructure/postgres"
	financehttp "erp-core/internal/finance/interfaces/http"
	"erp-core/internal/finance/ledgercheck"
	invapp "erp-core/internal/inventory/application"
	"erp-core/internal/inventory/client"
	invpg "erp-core/internal/inventory/infrastructure/postgres"
	invhttp "erp-core/internal/inventory/interfaces/http"
	ordersapp "erp-core/internal/orders/application"
	orderspg "erp-core/internal/orders/infrastructure/postgres"
	ordershttp "erp-core/internal/orders/interfaces/http"
)

func ordersModule(d deps) (module, error) {
	inv := d.cfg.Inventory
	inventory, err := client.New(client.Config{
		BaseURL:          inv.BaseURL,
		Token:            inv.Token,
		Timeout:          inv.Timeout,
		RetryMax:         inv.RetryMax,
		RetryInitial:     inv.RetryInitial,
		BreakerFailures:  inv.BreakerFailures,
		BreakerOpenFor:   inv.BreakerOpenFor,
		BreakerHalfOpens: inv.BreakerHalfOpens,
	}, d.logger)
	if err != nil {
		return module{}, err
	}
	repo := orderspg.NewOrderRepository(d.db.Primary, d.db.Reader, d.publisher)
	service, err := ordersapp.NewLifecycleService(repo, inventory, d.audit, d.logger)
	if err != nil {
		return module{}, err
	}
	handler, err := ordershttp.NewHandler(service, d.audit, d.logger)
	if err != nil {
		return module{}, err
	}
	return module{handler: handler, prefixes: []string{"/orders"}}, nil
}

func inventoryModule(d deps) (module, error) {
	service, err := invapp.NewService(invpg.NewStore(d.db.Primary, d.publisher), d.logger)
	if err != nil {
		return module{}, err
	}
	handler, err := invhttp.NewHandler(service, d.audit, d.logger)
	if err != nil {
		return module{}, err
	}
	return module{handler: handler, prefixes: []string{"/inventory"}}, nil
}

func financeModule(ctx context.Context, d deps) (module, error) {
	ledger, err := financepg.NewLedger(d.db.Primary, d.publisher, d.logger)
	if err != nil {
		return module{}, err
	}
	repo := financepg.NewRepository(d.db.Primary, d.db.Reader, d.publisher)
	mutator, err := financeapp.NewBalanceMutator(ledger, d.logger)
	if err != nil {
		return module{}, err
	}
	catalog, err := financeapp.NewCategoryService(repo, d.logger)
	if err != nil {
		return module{}, err
	}
	categories, err := catalog.Bootstrap(ctx, financeapp.CategoryNames(d.cfg.Categories))
	if err != nil {
		return module{}, err
	}

	svc := financehttp.Services{Categories: catalog}
	if svc.Accounts, err = financeapp.NewAccountService(repo, mutator, categories, d.cfg.DefaultCurrency, d.logger); err != nil {
		return module{}, err
	}
	if svc.Postings, err = financeapp.NewPostingService(repo, mutator, d.logger); err != nil {
		return module{}, err
	}
	if svc.Transfers, err = financeapp.NewTransferOrchestrator(mutator, categories, d.logger); err != nil {
		return module{}, err
	}
	if svc.Invoices, err = financeapp.NewInvoiceService(repo, d.cfg.DefaultCurrency, d.logger); err != nil {
		return module{}, err
	}
	if svc.Settlement, err = financeapp.NewSettlementAllocator(mutator, categories, d.logger); err != nil {
		return module{}, err
	}
	handler, err := financehttp.NewHandler(svc, d.audit, d.logger)
	if err != nil {
		return module{}, err
	}
	mod := module{handler: handler, prefixes: handler.Prefixes()}
	if d.cfg.LedgerCheck.DailyAt != "" {
		scheduler, err := ledgerCheckScheduler(d, svc.Accounts)
		if err != nil {
			return module{}, err
		}
		mod.background = append(mod.background, scheduler.Start)
	}
	return mod, nil
}

func ledgerCheckScheduler(d deps, verifier ledgercheck.Verifier) (*ledgercheck.Scheduler, error) {
	lc := d.cfg.LedgerCheck
	var notifier ledgercheck.Notifier
	if lc.WebhookURL != "" {
		notifier = ledgercheck.NewWebhookNotifier(lc.WebhookURL)
	}
	runner, err := ledgercheck.NewRunner(verifier, decimal.NewFromFloat(lc.DriftThreshold), notifier, d.cfg.TenantID, d.logger)
	if err != nil {
		return nil, err
	}
	d.logger.Info("ledger check scheduled", zap.String("daily_at", lc.DailyAt), zap.Bool("webhook", notifier != nil))
	return ledgercheck.NewScheduler(runner, lc.DailyAt, d.logger)
}
