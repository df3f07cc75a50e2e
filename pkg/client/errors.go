package client

import (
	"fmt"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/pkg/api"
)

// Сентинелы сервиса: APIError сопоставляется с ними через errors.Is.
var (
	ErrUnauthenticated     = domain.ErrUnauthenticated
	ErrForbidden           = domain.ErrForbidden
	ErrInvalidRole         = domain.ErrInvalidRole
	ErrInvalidTransition   = domain.ErrInvalidTransition
	ErrConversationNotOpen = domain.ErrConversationNotOpen
	ErrValidation          = domain.ErrValidation
	ErrTransientIO         = domain.ErrTransientIO
	ErrNotFound            = domain.ErrInquiryNotFound
	ErrInvalidCursor       = domain.ErrInvalidCursor
)

var codeToErr = map[string]error{
	api.CodeUnauthenticated:     ErrUnauthenticated,
	api.CodeForbidden:           ErrForbidden,
	api.CodeInvalidRole:         ErrInvalidRole,
	api.CodeInvalidTransition:   ErrInvalidTransition,
	api.CodeConversationNotOpen: ErrConversationNotOpen,
	api.CodeValidation:          ErrValidation,
	api.CodeTransientIO:         ErrTransientIO,
	api.CodeNotFound:            ErrNotFound,
	api.CodeInvalidCursor:       ErrInvalidCursor,
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inquiry api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	if sentinel, ok := codeToErr[e.Code]; ok {
		return sentinel == target
	}
	return false
}

// Temporary: стоит ли повторять запрос.
func (e *APIError) Temporary() bool {
	return e.Code == api.CodeTransientIO || e.StatusCode >= 500
}
