package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const DefaultMaxMessageLen = 4000

type Message struct {
	ID        string    `db:"id" json:"id"`
	InquiryID string    `db:"inquiry_id" json:"inquiry_id"`
	Seq       int64     `db:"seq" json:"seq"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NormalizeContent обрезает пробелы и проверяет длину в символах.
func NormalizeContent(content string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty message", ErrValidation)
	}
	if n := utf8.RuneCountInString(content); n > maxLen {
		return "", fmt.Errorf("%w: message is %d chars, max %d", ErrValidation, n, maxLen)
	}
	return content, nil
}
