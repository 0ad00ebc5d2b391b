package model

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf_UsesInstantLocation(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	instant := time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, Date{2025, time.January, 1}, DateOf(instant))
	assert.Equal(t, Date{2025, time.January, 2}, DateOf(instant.In(seoul)))
}

func TestDate_Ordering(t *testing.T) {
	a := Date{2024, time.December, 31}
	b := Date{2025, time.January, 1}
	c := Date{2025, time.January, 2}

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(c))
	assert.True(t, c.After(a))
	assert.True(t, Date{}.IsZero())
}

func TestDate_JSON(t *testing.T) {
	d := Date{2025, time.March, 7}
	data, err := json.Marshal(map[string]Date{"d": d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2025-03-07"}`, string(data))

	var back map[string]Date
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back["d"])

	_, err = ParseDate("07/03/2025")
	assert.Error(t, err)
}
