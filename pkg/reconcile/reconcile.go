// Package reconcile сводит оптимистично показанные сообщения с подтверждёнными сервером.
//
// Сообщение появляется в списке сразу после Send с временным id (OptimisticPrefix+uuid).
// Подтверждение приходит двумя путями в любом порядке: ответом на отправку и push-событием.
// Ответ заменяет именно свою запись, push — самую старую ожидающую запись того же
// отправителя с тем же текстом. Каждый серверный id попадает в список ровно один раз.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/inquiry-service/pkg/api"

	"github.com/google/uuid"
)

const OptimisticPrefix = "optimistic-"

const defaultSendTimeout = 10 * time.Second

type Sender interface {
	SendMessage(ctx context.Context, inquiryID, content string) (api.Message, error)
}

type Entry struct {
	LocalID string // пусто у сообщений, пришедших не из Send
	Message api.Message
	Pending bool
}

// SendError возвращается, когда отправка не удалась; Content — текст для возврата в поле ввода.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string { return fmt.Sprintf("send message: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

type Option func(*Reconciler)

func WithSendTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

type Reconciler struct {
	localUserID string
	inquiryID   string
	sender      Sender
	timeout     time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries []Entry
	known   map[string]struct{} // серверные id, уже стоящие в списке
}

func New(localUserID, inquiryID string, sender Sender, opts ...Option) *Reconciler {
	r := &Reconciler{
		localUserID: localUserID,
		inquiryID:   inquiryID,
		sender:      sender,
		timeout:     defaultSendTimeout,
		now:         time.Now,
		known:       make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Send показывает сообщение оптимистично и отправляет его.
func (r *Reconciler) Send(ctx context.Context, content string) (api.Message, error) {
	localID := OptimisticPrefix + uuid.NewString()
	r.mu.Lock()
	r.entries = append(r.entries, Entry{
		LocalID: localID,
		Pending: true,
		Message: api.Message{
			ID:        localID,
			InquiryID: r.inquiryID,
			SenderID:  r.localUserID,
			Content:   strings.TrimSpace(content),
			CreatedAt: r.now(),
		},
	})
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	msg, err := r.sender.SendMessage(ctx, r.inquiryID, content)

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOfLocal(localID)

	if err != nil {
		if i >= 0 && !r.entries[i].Pending {
			// push успел подтвердить запись раньше, чем всплыла ошибка
			return r.entries[i].Message, nil
		}
		if i >= 0 {
			r.remove(i)
		}
		return api.Message{}, &SendError{Content: content, Err: err}
	}

	switch {
	case r.isKnown(msg.ID):
		// сообщение уже в списке через push; своя запись больше не нужна
		if i >= 0 && r.entries[i].Pending {
			r.remove(i)
		}
	case i >= 0 && r.entries[i].Pending:
		r.entries[i].Message = msg
		r.entries[i].Pending = false
		r.known[msg.ID] = struct{}{}
	default:
		// свою запись уже занял другой push с тем же текстом
		r.applyLocked(msg)
	}
	return msg, nil
}

// Apply принимает сообщение из push или догрузки журнала. false — сообщение уже было.
func (r *Reconciler) Apply(msg api.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(msg)
}

func (r *Reconciler) applyLocked(msg api.Message) bool {
	if r.isKnown(msg.ID) {
		return false
	}
	r.known[msg.ID] = struct{}{}

	if msg.SenderID == r.localUserID {
		for i := range r.entries {
			e := &r.entries[i]
			if e.Pending && e.Message.Content == msg.Content {
				e.Message = msg
				e.Pending = false
				return true
			}
		}
	}
	r.entries = append(r.entries, Entry{Message: msg})
	return true
}

func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Pending {
			n++
		}
	}
	return n
}

// LastSeq: seq последнего подтверждённого сообщения; для курсора догрузки.
func (r *Reconciler) LastSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last int64
	for _, e := range r.entries {
		if !e.Pending && e.Message.Seq > last {
			last = e.Message.Seq
		}
	}
	return last
}

func (r *Reconciler) isKnown(id string) bool {
	_, ok := r.known[id]
	return ok
}

func (r *Reconciler) indexOfLocal(localID string) int {
	for i, e := range r.entries {
		if e.LocalID == localID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) remove(i int) {
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
}
