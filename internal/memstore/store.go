// Package memstore реализует хранилище в памяти процесса: для локального запуска без postgres и для тестов.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/repository"

	"github.com/google/uuid"
)

type conversation struct {
	mu   sync.Mutex
	inq  domain.Inquiry
	msgs []domain.Message
}

type Store struct {
	mu       sync.RWMutex
	convs    map[string]*conversation
	brands   map[string]domain.Profile // userID -> profile
	creators map[string]domain.Profile // profileID -> profile

	now func() time.Time
}

var (
	_ repository.InquiryRepository = (*Store)(nil)
	_ repository.MessageRepository = (*Store)(nil)
	_ repository.ProfileRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		convs:    make(map[string]*conversation),
		brands:   make(map[string]domain.Profile),
		creators: make(map[string]domain.Profile),
		now:      time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// PutProfile регистрирует профиль бренда или креатора; ID генерируется, если пуст.
func (s *Store) PutProfile(p domain.Profile) domain.Profile {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch p.Kind {
	case domain.ProfileBrand:
		s.brands[p.UserID] = p
	case domain.ProfileCreator:
		s.creators[p.ID] = p
	}
	return p
}

// ---- profiles ----

func (s *Store) BrandByUser(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.brands[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

func (s *Store) CreatorByUser(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.creators {
		if p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrProfileNotFound
}

func (s *Store) Creator(_ context.Context, creatorID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.creators[creatorID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

// ---- inquiries ----

func (s *Store) Create(_ context.Context, inq *domain.Inquiry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creators[inq.CreatorID]; !ok {
		return domain.ErrProfileNotFound
	}
	now := s.now()
	inq.ID = uuid.NewString()
	inq.CreatedAt = now
	inq.UpdatedAt = now
	inq.LastSeq = 0
	s.convs[inq.ID] = &conversation{inq: *inq}
	return nil
}

func (s *Store) conv(id string) (*conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, domain.ErrInquiryNotFound
	}
	return c, nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Inquiry, error) {
	c, err := s.conv(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	inq := c.inq
	return &inq, nil
}

func (s *Store) List(_ context.Context, f repository.InquiryFilter, limit int, cursor string) ([]domain.Inquiry, string, error) {
	cur, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	all := make([]*conversation, 0, len(s.convs))
	for _, c := range s.convs {
		all = append(all, c)
	}
	s.mu.RUnlock()

	var items []domain.Inquiry
	for _, c := range all {
		c.mu.Lock()
		inq := c.inq
		c.mu.Unlock()

		if f.BrandUserID != "" && inq.BrandUserID != f.BrandUserID {
			continue
		}
		if f.CreatorUserID != "" && inq.CreatorUserID != f.CreatorUserID {
			continue
		}
		if f.Status != "" && inq.Status != f.Status {
			continue
		}
		if cur != nil && !before(inq, cur) {
			continue
		}
		items = append(items, inq)
	}

	sort.Slice(items, func(i, j int) bool {
		return before(items[j], &repository.Cursor{CreatedAt: items[i].CreatedAt, ID: items[i].ID})
	})

	var next string
	if limit > 0 && len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		if c, e := repository.EncodeCursor(repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); e == nil {
			next = c
		}
	}
	return items, next, nil
}

// before: inq идёт после курсора в порядке (created_at DESC, id DESC).
func before(inq domain.Inquiry, cur *repository.Cursor) bool {
	if inq.CreatedAt.Equal(cur.CreatedAt) {
		return inq.ID < cur.ID
	}
	return inq.CreatedAt.Before(cur.CreatedAt)
}

func (s *Store) Transition(_ context.Context, id string, fn func(inq *domain.Inquiry) error) (*domain.Inquiry, error) {
	c, err := s.conv(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	draft := c.inq
	if err := fn(&draft); err != nil {
		return nil, err
	}
	c.inq.Status = draft.Status
	c.inq.UpdatedAt = draft.UpdatedAt
	out := c.inq
	return &out, nil
}

// ---- messages ----

func (s *Store) Append(_ context.Context, inquiryID, senderID, content string) (*domain.Message, error) {
	c, err := s.conv(inquiryID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inq.CheckAppend(senderID); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", domain.ErrValidation)
	}

	now := s.now()
	if n := len(c.msgs); n > 0 && now.Before(c.msgs[n-1].CreatedAt) {
		now = c.msgs[n-1].CreatedAt
	}
	c.inq.LastSeq++
	m := domain.Message{
		ID:        uuid.NewString(),
		InquiryID: inquiryID,
		Seq:       c.inq.LastSeq,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
	}
	c.msgs = append(c.msgs, m)
	return &m, nil
}

func (s *Store) ListSince(_ context.Context, inquiryID string, afterSeq int64, limit int) ([]domain.Message, error) {
	c, err := s.conv(inquiryID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// seq начинается с 1 и идёт без пропусков, поэтому индекс = seq-1
	start := afterSeq
	if start < 0 {
		start = 0
	}
	if start >= int64(len(c.msgs)) {
		return nil, nil
	}
	end := int64(len(c.msgs))
	if limit > 0 && start+int64(limit) < end {
		end = start + int64(limit)
	}
	out := make([]domain.Message, end-start)
	copy(out, c.msgs[start:end])
	return out, nil
}

func (s *Store) Head(_ context.Context, inquiryID string) (int64, error) {
	c, err := s.conv(inquiryID)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inq.LastSeq, nil
}
