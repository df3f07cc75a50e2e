package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxInquiryMessageLen = 1000

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusIgnored  Status = "ignored"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusAccepted, StatusIgnored:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
}

func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusIgnored
}

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionIgnore Decision = "ignore"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionAccept, DecisionIgnore:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", ErrValidation, s)
	}
}

// transitions: единственная таблица допустимых переходов.
var transitions = map[Status]map[Decision]Status{
	StatusPending: {
		DecisionAccept: StatusAccepted,
		DecisionIgnore: StatusIgnored,
	},
}

func nextStatus(from Status, d Decision) (Status, error) {
	to, ok := transitions[from][d]
	if !ok {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, d)
	}
	return to, nil
}

type Inquiry struct {
	ID            string    `db:"id"`
	BrandID       string    `db:"brand_id"`
	CreatorID     string    `db:"creator_id"`
	BrandUserID   string    `db:"brand_user_id"`
	CreatorUserID string    `db:"creator_user_id"`
	Message       string    `db:"message"`
	Status        Status    `db:"status"`
	LastSeq       int64     `db:"last_seq"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Submit создаёт новую заявку от бренда к креатору в статусе pending.
func Submit(actor Actor, brand, creator Profile, message string, now time.Time) (*Inquiry, error) {
	if actor.Role != RoleBrand {
		return nil, fmt.Errorf("%w: only a brand may submit an inquiry", ErrInvalidRole)
	}
	if brand.UserID != actor.UserID || brand.Kind != ProfileBrand {
		return nil, fmt.Errorf("%w: brand profile does not belong to actor", ErrForbidden)
	}
	if creator.Kind != ProfileCreator {
		return nil, fmt.Errorf("%w: addressee is not a creator", ErrValidation)
	}
	message = strings.TrimSpace(message)
	if n := utf8.RuneCountInString(message); n > MaxInquiryMessageLen {
		return nil, fmt.Errorf("%w: message is %d chars, max %d", ErrValidation, n, MaxInquiryMessageLen)
	}

	return &Inquiry{
		BrandID:       brand.ID,
		CreatorID:     creator.ID,
		BrandUserID:   brand.UserID,
		CreatorUserID: creator.UserID,
		Message:       message,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Respond — единственное место, где меняется Status.
// Гейт переписки открывается тем же переходом, отдельного шага нет.
func (i *Inquiry) Respond(actor Actor, d Decision, now time.Time) error {
	if actor.Role != RoleCreator || actor.UserID != i.CreatorUserID {
		return fmt.Errorf("%w: only the addressed creator may respond", ErrForbidden)
	}
	to, err := nextStatus(i.Status, d)
	if err != nil {
		return err
	}
	i.Status = to
	i.UpdatedAt = now
	return nil
}

// IsOpen: гейт переписки.
func (i *Inquiry) IsOpen() bool {
	return i.Status == StatusAccepted
}

func (i *Inquiry) IsParty(userID string) bool {
	return userID != "" && (userID == i.BrandUserID || userID == i.CreatorUserID)
}

// CheckAppend вызывается хранилищем на строке, прочитанной под блокировкой.
func (i *Inquiry) CheckAppend(senderID string) error {
	if !i.IsOpen() {
		return fmt.Errorf("%w: inquiry %s is %s", ErrConversationNotOpen, i.ID, i.Status)
	}
	if !i.IsParty(senderID) {
		return fmt.Errorf("%w: sender is not a party of inquiry %s", ErrForbidden, i.ID)
	}
	return nil
}

// CanRead: стороны переписки и админ.
func (i *Inquiry) CanRead(actor Actor) error {
	if actor.Role == RoleAdmin || i.IsParty(actor.UserID) {
		return nil
	}
	return fmt.Errorf("%w: not a party of inquiry %s", ErrForbidden, i.ID)
}

// Counterpart возвращает user id второй стороны.
func (i *Inquiry) Counterpart(userID string) string {
	if userID == i.BrandUserID {
		return i.CreatorUserID
	}
	return i.BrandUserID
}

type StatusChange struct {
	InquiryID string    `json:"inquiry_id"`
	Status    Status    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

func (i *Inquiry) StatusChange(by string) StatusChange {
	return StatusChange{
		InquiryID: i.ID,
		Status:    i.Status,
		ChangedBy: by,
		ChangedAt: i.UpdatedAt,
	}
}
