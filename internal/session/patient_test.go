package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPatient(t *testing.T) {
	_, err := NewPatient("", nil)
	assert.Error(t, err)

	p, err := NewPatient("p1", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Local, p.Loc())
}

func TestToday(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	p := Patient{ID: "p1", Location: loc}

	// 2025-04-16 03:00 UTC is still the 15th in Los Angeles
	today := p.Today(time.Date(2025, 4, 16, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, 15, today.Day())
	assert.Equal(t, 0, today.Hour())
	assert.Equal(t, loc, today.Location())

	assert.Equal(t, time.UTC, p.WithLocation(time.UTC).Loc())
}
