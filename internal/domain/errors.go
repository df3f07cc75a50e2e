package domain

import "errors"

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrConversationNotOpen = errors.New("conversation is not open")
	ErrValidation          = errors.New("validation error")
	ErrTransientIO         = errors.New("transient io failure")

	ErrInquiryNotFound = errors.New("inquiry not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidCursor   = errors.New("invalid cursor")
)
