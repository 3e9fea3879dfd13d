package ledgercheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	financeapp "erp-core/internal/finance/application"
	finance "erp-core/internal/finance/domain"
)

type fakeVerifier struct {
	drifts  []financeapp.Drift
	checked int
	err     error
}

func (f fakeVerifier) Verify(context.Context) ([]financeapp.Drift, int, error) {
	return f.drifts, f.checked, f.err
}

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, alert Alert) error {
	n.alerts = append(n.alerts, alert)
	return n.err
}

func drift(id string, stored, replayed string) financeapp.Drift {
	s := decimal.RequireFromString(stored)
	r := decimal.RequireFromString(replayed)
	return financeapp.Drift{
		AccountBalance: finance.AccountBalance{AccountID: id, Name: "Cash " + id, Currency: "UAH", Stored: s, Replayed: r, Postings: 3},
		Difference:     s.Sub(r),
	}
}

func TestRunnerConsistentLedgerDoesNotAlert(t *testing.T) {
	notifier := &recordingNotifier{}
	runner, err := NewRunner(fakeVerifier{checked: 4}, decimal.Zero, notifier, "t1", nil)
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Empty(t, report.Drifts)
	assert.False(t, report.Alerted)
	assert.Empty(t, notifier.alerts)
}

func TestRunnerAlertsAboveThreshold(t *testing.T) {
	notifier := &recordingNotifier{}
	verifier := fakeVerifier{checked: 3, drifts: []financeapp.Drift{drift("a1", "90", "100"), drift("a2", "101", "100")}}
	runner, err := NewRunner(verifier, decimal.NewFromInt(5), notifier, "t1", nil)
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.MaxDrift.Equal(decimal.NewFromInt(10)))
	assert.True(t, report.Alerted)
	require.Len(t, notifier.alerts, 1)
	alert := notifier.alerts[0]
	assert.Equal(t, "t1", alert.TenantID)
	assert.Equal(t, "10.00", alert.MaxDrift)
	require.Len(t, alert.Accounts, 2)
	assert.Equal(t, "-10.00", alert.Accounts[0].Difference)
}

func TestRunnerBelowThresholdOnlyReports(t *testing.T) {
	notifier := &recordingNotifier{}
	verifier := fakeVerifier{checked: 1, drifts: []financeapp.Drift{drift("a1", "100.01", "100")}}
	runner, err := NewRunner(verifier, decimal.NewFromInt(1), notifier, "", nil)
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Drifts, 1)
	assert.False(t, report.Alerted)
	assert.Empty(t, notifier.alerts)
}

func TestRunnerNotifierFailureKeepsReport(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("down")}
	verifier := fakeVerifier{checked: 1, drifts: []financeapp.Drift{drift("a1", "50", "0")}}
	runner, err := NewRunner(verifier, decimal.Zero, notifier, "", nil)
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Alerted)
	assert.Len(t, notifier.alerts, 1)
}

func TestRunnerVerifyError(t *testing.T) {
	runner, err := NewRunner(fakeVerifier{err: errors.New("db gone")}, decimal.Zero, nil, "", nil)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	assert.EqualError(t, err, "db gone")
}

func TestNewRunnerValidates(t *testing.T) {
	_, err := NewRunner(nil, decimal.Zero, nil, "", nil)
	assert.Error(t, err)
	_, err = NewRunner(fakeVerifier{}, decimal.NewFromInt(-1), nil, "", nil)
	assert.Error(t, err)
}

func TestWebhookNotifierPostsText(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Notify(context.Background(), Alert{
		TenantID:  "t1",
		CheckedAt: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC),
		Checked:   2,
		MaxDrift:  "10.00",
		Accounts:  []AlertAccount{{AccountID: "a1", Name: "Cash", Currency: "UAH", Stored: "90.00", Replayed: "100.00", Difference: "-10.00"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "text", got.MsgType)
	assert.Contains(t, got.Text.Content, "[Ledger Drift]")
	assert.Contains(t, got.Text.Content, "Tenant: t1")
	assert.Contains(t, got.Text.Content, "Cash (a1) stored 90.00 replayed 100.00 diff -10.00 UAH")
}

func TestWebhookNotifierErrors(t *testing.T) {
	assert.Error(t, NewWebhookNotifier("").Notify(context.Background(), Alert{}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	assert.EqualError(t, NewWebhookNotifier(srv.URL).Notify(context.Background(), Alert{}), "webhook notifier: status 502")
}

func TestSchedulerParsesDailyAt(t *testing.T) {
	runner, err := NewRunner(fakeVerifier{}, decimal.Zero, nil, "", nil)
	require.NoError(t, err)

	s, err := NewScheduler(runner, "02:30", nil)
	require.NoError(t, err)
	assert.True(t, s.shouldRun(time.Date(2026, 3, 1, 2, 30, 59, 0, time.UTC)))
	assert.False(t, s.shouldRun(time.Date(2026, 3, 1, 2, 31, 0, 0, time.UTC)))

	_, err = NewScheduler(runner, "25:00", nil)
	assert.Error(t, err)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	runner, err := NewRunner(fakeVerifier{}, decimal.Zero, nil, "", nil)
	require.NoError(t, err)
	s, err := NewScheduler(runner, "00:00", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
