package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ms-stepping/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid ticket QR payload")

// Claims is what a ticket QR code carries, encrypted.
type Claims struct {
	TicketID string    `json:"tid"`
	OrderID  string    `json:"oid"`
	EventID  string    `json:"eid"`
	UserID   string    `json:"uid"`
	SeatID   string    `json:"sid,omitempty"`
	IssuedAt time.Time `json:"iat"`
}

type QRGenerator struct {
	secret []byte
	size   int
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:], size: 256}
}

// Generate returns the encrypted payload for ticket and a PNG QR code of it.
func (q *QRGenerator) Generate(ticket *models.Ticket) (string, []byte, error) {
	data, err := json.Marshal(Claims{
		TicketID: ticket.ID,
		OrderID:  ticket.OrderID,
		EventID:  ticket.EventID,
		UserID:   ticket.UserID,
		SeatID:   ticket.SeatID,
		IssuedAt: ticket.IssuedAt,
	})
	if err != nil {
		return "", nil, err
	}

	payload, err := encryptAES(data, q.secret)
	if err != nil {
		return "", nil, err
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, q.size)
	if err != nil {
		return "", nil, fmt.Errorf("encode qr: %w", err)
	}
	return payload, png, nil
}

// Decode decrypts a scanned payload.
func (q *QRGenerator) Decode(payload string) (*Claims, error) {
	data, err := decryptAES(payload, q.secret)
	if err != nil {
		return nil, err
	}
	var c Claims
	if err := json.Unmarshal(data, &c); err != nil || c.TicketID == "" {
		return nil, ErrInvalidPayload
	}
	return &c, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(payload string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(payload)
	if err != nil || len(ciphertext) <= aes.BlockSize {
		return nil, ErrInvalidPayload
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(data, ciphertext[aes.BlockSize:])
	return data, nil
}
