package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLinesMergesAndSorts(t *testing.T) {
	lines, err := NormalizeLines([]Line{
		{ProductID: "p-2", Quantity: 1},
		{ProductID: " p-1 ", Quantity: 2},
		{ProductID: "p-2", Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "p-1", Quantity: 2}, {ProductID: "p-2", Quantity: 4}}, lines)
}

func TestNormalizeLinesRejectsInvalid(t *testing.T) {
	_, err := NormalizeLines(nil)
	assert.ErrorIs(t, err, ErrNoLines)

	_, err = NormalizeLines([]Line{{ProductID: "p-1", Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidLine)

	_, err = NormalizeLines([]Line{{ProductID: "", Quantity: 1}})
	assert.ErrorIs(t, err, ErrInvalidLine)
}

func TestShortages(t *testing.T) {
	stock := map[string]Stock{
		"p-1": {ProductID: "p-1", Quantity: 10, Reserved: 8},
		"p-2": {ProductID: "p-2", Quantity: 3, Reserved: 5},
	}
	lines := []Line{{ProductID: "p-1", Quantity: 2}, {ProductID: "p-2", Quantity: 1}, {ProductID: "p-3", Quantity: 1}}

	got := Shortages(lines, stock)

	assert.Equal(t, []Shortage{
		{ProductID: "p-2", Requested: 1, Available: 0},
		{ProductID: "p-3", Requested: 1, Available: 0},
	}, got)
}
