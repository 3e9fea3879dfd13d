package interfaces

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"erp-core/internal/finance/application"
	finance "erp-core/internal/finance/domain"
)

func sampleStatement() *application.Statement {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return &application.Statement{
		Account:  finance.Account{ID: "acc-1", Name: "Main"},
		Currency: "UAH",
		From:     day,
		To:       day.AddDate(0, 1, 0),
		Opening:  decimal.RequireFromString("500"),
		Closing:  decimal.RequireFromString("400"),
		Lines: []application.StatementLine{{
			Posting: finance.Posting{Type: finance.Expense, Amount: decimal.RequireFromString("100"), Description: "Transfer to Savings", TransactionDate: day},
			Balance: decimal.RequireFromString("400"),
		}},
	}
}

func TestBuildStatementXLSX(t *testing.T) {
	data, err := BuildStatementXLSX(sampleStatement())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	name, err := f.GetCellValue(summarySheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, "Main", name)

	rows, err := f.GetRows(postingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Transfer to Savings", rows[1][2])
	assert.Equal(t, "-100", rows[1][4])
	assert.Equal(t, "400", rows[1][5])
}

func TestBuildStatementPDF(t *testing.T) {
	data, err := BuildStatementPDF(sampleStatement())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}
