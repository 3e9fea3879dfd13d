package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("order_not_found", "order %s not found", "o-1"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrBadRequest))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestCodeMatching(t *testing.T) {
	err := BadRequest("insufficient_funds", "insufficient funds")

	assert.True(t, errors.Is(err, &Error{Kind: KindBadRequest, Code: "insufficient_funds"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindBadRequest, Code: "invalid_amount"}))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{BadRequest("x", "bad"), http.StatusBadRequest},
		{Conflict("x", "conflict"), http.StatusConflict},
		{Unavailable("x", errors.New("timeout"), "down"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := BadRequest("items_unavailable", "items unavailable")
	withItems := base.WithDetail("unavailableItems", []string{"p-1"})

	require.NotNil(t, withItems.Details)
	assert.Nil(t, base.Details)
	assert.Equal(t, []string{"p-1"}, withItems.Details["unavailableItems"])
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Unavailable("inventory_unavailable", cause, "inventory unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp")
}
