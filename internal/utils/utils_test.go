package utils

import (
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{8}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(8)
		require.NoError(t, err)
		assert.Regexp(t, re, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestGenerateIdempotencyKeyIsUUID(t *testing.T) {
	a := GenerateIdempotencyKey()
	b := GenerateIdempotencyKey()
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParseEventTime(t *testing.T) {
	got, err := ParseEventTime("2026-03-14", "19:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC), got)

	got, err = ParseEventTime("2026-03-14", "")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Hour())

	_, err = ParseEventTime("14/03/2026", "19:30")
	assert.Error(t, err)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, 400, "Invalid request", "missing action")

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Contains(t, rec.Body.String(), `"error":"missing action"`)
}
