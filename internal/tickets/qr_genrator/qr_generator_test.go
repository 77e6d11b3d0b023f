package qr

import (
	"bytes"
	"testing"
	"time"

	"ms-stepping/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTicket() *models.Ticket {
	return &models.Ticket{
		ID:       "ticket-1",
		OrderID:  "order-1",
		EventID:  "event-1",
		UserID:   "user-1",
		SeatID:   "A1",
		IssuedAt: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
	}
}

func TestGenerateAndDecode(t *testing.T) {
	gen := NewQRGenerator("test-secret-key")

	payload, png, err := gen.Generate(testTicket())
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	claims, err := gen.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", claims.TicketID)
	assert.Equal(t, "event-1", claims.EventID)
	assert.Equal(t, "A1", claims.SeatID)
}

func TestPayloadsDifferPerCall(t *testing.T) {
	gen := NewQRGenerator("test-secret-key")
	p1, _, err := gen.Generate(testTicket())
	require.NoError(t, err)
	p2, _, err := gen.Generate(testTicket())
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2, "random IV per payload")
}

func TestDecodeRejectsForeignPayloads(t *testing.T) {
	gen := NewQRGenerator("test-secret-key")
	other := NewQRGenerator("another-secret")

	payload, _, err := other.Generate(testTicket())
	require.NoError(t, err)

	_, err = gen.Decode(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = gen.Decode("not base64 !!")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
