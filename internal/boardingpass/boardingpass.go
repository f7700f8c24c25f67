package boardingpass

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

	"github.com/skip2/go-qrcode"

	"travel-booking/internal/models"
)

var (
	// ErrNotConfirmed is returned for bookings the remote side has not
	// accepted yet, or that were cancelled.
	ErrNotConfirmed = errors.New("booking is not confirmed")
	ErrBadToken     = errors.New("invalid boarding pass token")
)

// Pass is the content encoded into the QR code.
type Pass struct {
	BookingID  int64             `json:"bookingId"`
	TicketID   string            `json:"ticketId"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Date       time.Time         `json:"date"`
	Type       models.TicketType `json:"type"`
	Passengers []string          `json:"passengers"`
	IssuedAt   time.Time         `json:"issuedAt"`
}

type Generator struct {
	secret []byte
	size   int
	now    func() time.Time
}

func NewGenerator(secret string, size int) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	if size <= 0 {
		size = 256
	}
	return &Generator{secret: hashed[:], size: size, now: time.Now}
}

// NewPass builds the pass for a confirmed booking. The ticket may be nil
// when it is no longer cached; route fields are then left empty.
func (g *Generator) NewPass(b models.Booking, t *models.Ticket) (Pass, error) {
	if b.Status != models.BookingConfirmed {
		return Pass{}, fmt.Errorf("booking %d: %w", b.ID, ErrNotConfirmed)
	}
	p := Pass{
		BookingID: b.ID,
		TicketID:  b.TicketID,
		IssuedAt:  g.now().UTC(),
	}
	if t != nil {
		p.From, p.To, p.Date, p.Type = t.From, t.To, t.Date, t.Type
	}
	for _, passenger := range b.Passengers {
		p.Passengers = append(p.Passengers, passenger.Name)
	}
	return p, nil
}

// Token returns the encrypted, URL-safe form of p.
func (g *Generator) Token(p Pass) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return encryptAES(data, g.secret)
}

// PNG renders the booking's boarding pass as a QR code image.
func (g *Generator) PNG(b models.Booking, t *models.Ticket) ([]byte, error) {
	p, err := g.NewPass(b, t)
	if err != nil {
		return nil, err
	}
	token, err := g.Token(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, g.size)
}

// Decode reverses Token. Gate scanners use it to read a pass back.
func (g *Generator) Decode(token string) (Pass, error) {
	data, err := decryptAES(token, g.secret)
	if err != nil {
		return Pass{}, err
	}
	var p Pass
	if err := json.Unmarshal(data, &p); err != nil {
		return Pass{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return p, nil
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

func decryptAES(token string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, ErrBadToken
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
