package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-core/internal/platform/apperr"
)

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	err := apperr.BadRequest("items_unavailable", "some items are unavailable").
		WithDetail("unavailableItems", []string{"p-1"})

	WriteError(rec, req, nil, err)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Equal(t, "items_unavailable", body.Code)
	assert.Equal(t, "some items are unavailable", body.Message)
	assert.Contains(t, body.Errors, "unavailableItems")
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), nil, errors.New("pq: password leaked"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage(httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.NoError(t, err)
	assert.Equal(t, Page{Page: 1, Limit: DefaultLimit}, page)

	page, err = ParsePage(httptest.NewRequest(http.MethodGet, "/orders?page=3&limit=500", nil))
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, MaxLimit, page.Limit)
	assert.Equal(t, 200, page.Offset())

	_, err = ParsePage(httptest.NewRequest(http.MethodGet, "/orders?page=0", nil))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestNewListPagination(t *testing.T) {
	list := NewList([]string{"a", "b"}, 25, Page{Page: 2, Limit: 10})

	assert.Equal(t, 3, list.Pagination.TotalPages)
	assert.True(t, list.Pagination.HasNext)
	assert.True(t, list.Pagination.HasPrev)

	empty := NewList[string](nil, 0, Page{Page: 1, Limit: 10})
	assert.NotNil(t, empty.Items)
	assert.False(t, empty.Pagination.HasNext)
	assert.False(t, empty.Pagination.HasPrev)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"o-1", "status"}, SplitPath("/orders/o-1/status", "/orders"))
	assert.Nil(t, SplitPath("/orders/", "/orders"))
}

func TestMoney(t *testing.T) {
	data, err := json.Marshal(map[string]any{"total": Money(decimal.RequireFromString("130"))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":130.00}`, string(data))
}

func TestParseTimeParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?startDate=2024-03-01&endDate=2024-03-31", nil)

	from, err := ParseTimeParam(req, "startDate", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), from)

	to, err := ParseTimeParam(req, "endDate", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC), to)

	_, err = ParseTimeParam(httptest.NewRequest(http.MethodGet, "/orders?startDate=yesterday", nil), "startDate", false)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestDateAcceptsBothLayouts(t *testing.T) {
	var body struct {
		Due    Date  `json:"due"`
		Issued Date  `json:"issued"`
		Paid   *Date `json:"paid"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"due":"2024-03-31","issued":"2024-03-01T10:00:00+02:00","paid":null}`), &body))
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), body.Due.Time)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), body.Issued.Time)
	assert.Nil(t, body.Paid.Ptr())

	assert.Error(t, json.Unmarshal([]byte(`{"due":"31/03/2024"}`), &body))
}
