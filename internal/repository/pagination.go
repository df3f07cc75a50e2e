package repository

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
)

// Cursor: keyset-курсор для списка заявок (CreatedAt, ID).
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func EncodeCursor(c Cursor) (string, error) {
	return encode(c)
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	var c Cursor
	if err := decode(s, &c); err != nil {
		return nil, err
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: incomplete cursor", domain.ErrInvalidCursor)
	}
	return &c, nil
}

// SeqCursor: позиция в журнале сообщений одной переписки.
type SeqCursor struct {
	Seq int64 `json:"seq"`
}

func EncodeSeqCursor(seq int64) string {
	s, _ := encode(SeqCursor{Seq: seq})
	return s
}

// DecodeSeqCursor: пустая строка — с начала журнала.
func DecodeSeqCursor(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	var c SeqCursor
	if err := decode(s, &c); err != nil {
		return 0, err
	}
	if c.Seq < 0 {
		return 0, fmt.Errorf("%w: negative seq", domain.ErrInvalidCursor)
	}
	return c.Seq, nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decode(s string, dst any) error {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: decode base64: %v", domain.ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: decode json: %v", domain.ErrInvalidCursor, err)
	}
	return nil
}
