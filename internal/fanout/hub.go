package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/metrics"
)

var (
	ErrSlowConsumer = errors.New("fanout: subscriber buffer overflow")
	ErrResync       = errors.New("fanout: delivery gap could not be filled")
	ErrHubClosed    = errors.New("fanout: hub closed")
)

// Log: то, что hub читает из журнала сообщений, чтобы закрывать дыры в доставке.
type Log interface {
	ListSince(ctx context.Context, inquiryID string, afterSeq int64, limit int) ([]domain.Message, error)
	Head(ctx context.Context, inquiryID string) (int64, error)
}

// TopicObserver узнаёт о появлении первого и уходе последнего подписчика переписки.
// Уведомления приходят из отдельной горутины hub в порядке изменений, блокировки hub
// в этот момент не удерживаются.
type TopicObserver interface {
	TopicOpened(inquiryID string)
	TopicClosed(inquiryID string)
}

type Options struct {
	Buffer        int // размер буфера подписчика
	BackfillLimit int // размер страницы при дочитывании дыры
}

type Hub struct {
	mu       sync.RWMutex
	topics   map[string]*topic // inquiryID -> topic
	observer TopicObserver
	notes    []topicNote // очередь для observer, под mu
	wake     chan struct{}
	done     chan struct{}
	closed   bool

	log  Log
	opts Options
}

type topicNote struct {
	id   string
	open bool
}

type topic struct {
	id   string
	refs int // под Hub.mu

	mu    sync.Mutex
	ready bool
	last  int64 // seq последнего доставленного сообщения
	subs  map[*Subscription]struct{}
}

func NewHub(log Log, opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.BackfillLimit <= 0 {
		opts.BackfillLimit = 200
	}
	return &Hub{
		topics: make(map[string]*topic),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    log,
		opts:   opts,
	}
}

func (h *Hub) SetObserver(o TopicObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := h.observer == nil && o != nil && !h.closed
	h.observer = o
	if start {
		go h.notifyLoop()
	}
}

func (h *Hub) noteLocked(id string, open bool) {
	if h.observer == nil {
		return
	}
	h.notes = append(h.notes, topicNote{id: id, open: open})
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// notifyLoop передаёт observer'у открытия и закрытия topic'ов вне блокировок hub.
func (h *Hub) notifyLoop() {
	for {
		select {
		case <-h.wake:
		case <-h.done:
			return
		}
		h.mu.Lock()
		notes, obs := h.notes, h.observer
		h.notes = nil
		h.mu.Unlock()

		for _, n := range notes {
			if n.open {
				obs.TopicOpened(n.id)
			} else {
				obs.TopicClosed(n.id)
			}
		}
	}
}

// Subscribe регистрирует подписчика переписки. Start() подписки равен голове журнала
// на момент регистрации: всё, что старше, клиент дочитывает через listMessages.
func (h *Hub) Subscribe(ctx context.Context, inquiryID string) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	t, ok := h.topics[inquiryID]
	if !ok {
		t = &topic{id: inquiryID, subs: make(map[*Subscription]struct{})}
		h.topics[inquiryID] = t
		metrics.TopicOpened()
		h.noteLocked(inquiryID, true)
	}
	t.refs++
	h.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		head, err := h.log.Head(ctx, inquiryID)
		if err != nil {
			h.release(t)
			return nil, fmt.Errorf("fanout: read head: %w", err)
		}
		t.last = head
		t.ready = true
	}

	sub := &Subscription{
		hub:   h,
		topic: t,
		start: t.last,
		ch:    make(chan Event, h.opts.Buffer),
	}
	t.subs[sub] = struct{}{}
	metrics.SubscriptionOpened()
	return sub, nil
}

// Dispatch раскладывает событие подписчикам переписки на этом инстансе.
// Сообщения уходят строго по seq: дубли отбрасываются, дыры дочитываются из журнала.
func (h *Hub) Dispatch(ctx context.Context, ev Event) {
	h.mu.RLock()
	t := h.topics[ev.InquiryID]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case KindStatus:
		if ev.Status != nil {
			h.deliverLocked(t, ev)
		}
	case KindMessage:
		if ev.Message == nil {
			return
		}
		h.dispatchMessageLocked(ctx, t, *ev.Message)
	default:
		slog.Warn("fanout: unknown event kind", "kind", ev.Kind, "inquiry", ev.InquiryID)
	}
}

func (h *Hub) dispatchMessageLocked(ctx context.Context, t *topic, m domain.Message) {
	if !t.ready {
		head, err := h.log.Head(ctx, t.id)
		if err != nil {
			head = m.Seq - 1
		}
		t.last, t.ready = head, true
	}
	if m.Seq <= t.last {
		metrics.RecordDuplicateDropped()
		return
	}

	for t.last < m.Seq-1 {
		gap, err := h.log.ListSince(ctx, t.id, t.last, h.opts.BackfillLimit)
		if err != nil || len(gap) == 0 {
			slog.Warn("fanout: backfill failed, forcing resync",
				"inquiry", t.id, "last", t.last, "seq", m.Seq, slog.Any("err", err))
			h.dropAllLocked(t, ErrResync)
			t.last = m.Seq
			return
		}
		for _, g := range gap {
			if g.Seq >= m.Seq {
				break
			}
			h.deliverLocked(t, MessageEvent(g))
			t.last = g.Seq
		}
		metrics.RecordBackfilled(len(gap))
	}

	h.deliverLocked(t, MessageEvent(m))
	t.last = m.Seq
}

func (h *Hub) deliverLocked(t *topic, ev Event) {
	for sub := range t.subs {
		select {
		case sub.ch <- ev:
			metrics.RecordDelivered(string(ev.Kind))
		default:
			metrics.RecordSlowConsumer()
			slog.Warn("fanout: slow subscriber dropped", "inquiry", t.id)
			h.dropLocked(t, sub, ErrSlowConsumer)
		}
	}
}

func (h *Hub) dropAllLocked(t *topic, err error) {
	for sub := range t.subs {
		h.dropLocked(t, sub, err)
	}
}

func (h *Hub) dropLocked(t *topic, sub *Subscription, err error) {
	if _, ok := t.subs[sub]; !ok {
		return
	}
	delete(t.subs, sub)
	sub.finish(err)
	metrics.SubscriptionClosed()
	h.release(t)
}

// release снимает ссылку на topic; последняя ссылка удаляет topic.
func (h *Hub) release(t *topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.refs--
	if t.refs > 0 {
		return
	}
	if cur, ok := h.topics[t.id]; ok && cur == t {
		delete(h.topics, t.id)
		metrics.TopicClosed()
		h.noteLocked(t.id, false)
	}
}

// Close закрывает все подписки (graceful shutdown).
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	topics := make([]*topic, 0, len(h.topics))
	for _, t := range h.topics {
		topics = append(topics, t)
	}
	h.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		h.dropAllLocked(t, ErrHubClosed)
		t.mu.Unlock()
	}
}

// Topics: число переписок с локальными подписчиками.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

type Subscription struct {
	hub   *Hub
	topic *topic
	start int64
	ch    chan Event

	once sync.Once
	err  error
}

func (s *Subscription) Events() <-chan Event { return s.ch }
func (s *Subscription) InquiryID() string    { return s.topic.id }

// Start: seq головы журнала в момент подписки.
func (s *Subscription) Start() int64 { return s.start }

// Err: причина закрытия канала событий (nil при обычном Close).
func (s *Subscription) Err() error {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	s.hub.dropLocked(s.topic, s, nil)
}

// finish вызывается под topic.mu.
func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
	})
}
