// Package api содержит публичные DTO HTTP/WS API сервиса заявок.
package api

import (
	"encoding/json"
	"time"
)

// Коды ошибок в теле {"error":{"code","message"}}.
const (
	CodeUnauthenticated     = "unauthenticated"
	CodeForbidden           = "forbidden"
	CodeInvalidRole         = "invalid_role"
	CodeInvalidTransition   = "invalid_transition"
	CodeConversationNotOpen = "conversation_not_open"
	CodeValidation          = "validation_error"
	CodeTransientIO         = "transient_io"
	CodeNotFound            = "not_found"
	CodeInvalidCursor       = "invalid_cursor"
	CodeInternal            = "internal"
)

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusIgnored  = "ignored"

	DecisionAccept = "accept"
	DecisionIgnore = "ignore"
)

type Inquiry struct {
	ID            string    `json:"id"`
	BrandID       string    `json:"brand_id"`
	CreatorID     string    `json:"creator_id"`
	BrandUserID   string    `json:"brand_user_id"`
	CreatorUserID string    `json:"creator_user_id"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Message struct {
	ID        string    `json:"id"`
	InquiryID string    `json:"inquiry_id"`
	Seq       int64     `json:"seq"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateInquiryRequest struct {
	CreatorID string `json:"creator_id"`
	Message   string `json:"message"`
}

type RespondRequest struct {
	Decision string `json:"decision"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type InquiryList struct {
	Items      []Inquiry `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type MessageList struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// Типы WS-фреймов.
const (
	FrameSubscribed    = "subscribed"
	FrameMessage       = "message"
	FrameInquiryStatus = "inquiry_status"
)

type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Subscribed: первый фрейм подписки: статус на момент регистрации и курсор головы журнала.
type Subscribed struct {
	InquiryID string `json:"inquiry_id"`
	Status    string `json:"status"`
	Cursor    string `json:"cursor"`
}

type InquiryStatusChanged struct {
	InquiryID string    `json:"inquiry_id"`
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func NewFrame(typ string, payload any) (Frame, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: typ, Payload: b}, nil
}
