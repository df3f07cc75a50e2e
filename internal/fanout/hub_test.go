package fanout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLog: журнал с seq 1..n.
type fakeLog struct {
	mu      sync.Mutex
	msgs    []domain.Message
	failing bool
	reads   int
}

func (l *fakeLog) add(inquiryID string, n int) []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var added []domain.Message
	for i := 0; i < n; i++ {
		m := domain.Message{
			ID:        inquiryID + "-" + time.Now().Format("150405.000000000"),
			InquiryID: inquiryID,
			Seq:       int64(len(l.msgs) + 1),
			SenderID:  "u-b1",
			Content:   "m",
			CreatedAt: time.Now(),
		}
		l.msgs = append(l.msgs, m)
		added = append(added, m)
	}
	return added
}

func (l *fakeLog) ListSince(_ context.Context, _ string, after int64, limit int) ([]domain.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.failing {
		return nil, errors.New("db down")
	}
	var out []domain.Message
	for _, m := range l.msgs {
		if m.Seq > after {
			out = append(out, m)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *fakeLog) Head(context.Context, string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.msgs)), nil
}

func drain(t *testing.T, sub *fanout.Subscription, n int) []fanout.Event {
	t.Helper()
	var got []fanout.Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d events: %v", len(got), sub.Err())
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timeout: got %d of %d events", len(got), n)
		}
	}
	return got
}

func seqs(evs []fanout.Event) []int64 {
	out := make([]int64, 0, len(evs))
	for _, ev := range evs {
		if ev.Message != nil {
			out = append(out, ev.Message.Seq)
		}
	}
	return out
}

func TestHub_DeliversInLogOrderAndDropsDuplicates(t *testing.T) {
	ctx := context.Background()
	log := &fakeLog{}
	log.add("inq", 2) // история до подписки
	hub := fanout.NewHub(log, fanout.Options{})

	sub, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)
	defer sub.Close()
	assert.EqualValues(t, 2, sub.Start())

	msgs := log.add("inq", 3) // seq 3,4,5

	// публикации пришли не по порядку и с дублем
	hub.Dispatch(ctx, fanout.MessageEvent(msgs[2])) // 5: дыра 3..4 дочитывается
	hub.Dispatch(ctx, fanout.MessageEvent(msgs[0])) // 3: дубль
	hub.Dispatch(ctx, fanout.MessageEvent(msgs[1])) // 4: дубль
	hub.Dispatch(ctx, fanout.MessageEvent(msgs[2])) // 5: дубль

	got := drain(t, sub, 3)
	assert.Equal(t, []int64{3, 4, 5}, seqs(got))

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestHub_OldMessagesAreNotReplayed(t *testing.T) {
	ctx := context.Background()
	log := &fakeLog{}
	old := log.add("inq", 3)
	hub := fanout.NewHub(log, fanout.Options{})

	sub, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)
	defer sub.Close()

	hub.Dispatch(ctx, fanout.MessageEvent(old[1]))
	select {
	case ev := <-sub.Events():
		t.Fatalf("history must not be pushed: %+v", ev)
	default:
	}
}

func TestHub_StatusEventAndTopicLifecycle(t *testing.T) {
	ctx := context.Background()
	hub := fanout.NewHub(&fakeLog{}, fanout.Options{})

	a, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Topics())

	hub.Dispatch(ctx, fanout.StatusEvent(domain.StatusChange{InquiryID: "inq", Status: domain.StatusAccepted}))
	for _, s := range []*fanout.Subscription{a, b} {
		ev := drain(t, s, 1)[0]
		assert.Equal(t, fanout.KindStatus, ev.Kind)
		assert.Equal(t, domain.StatusAccepted, ev.Status.Status)
	}

	// другая переписка не задевает подписчиков
	hub.Dispatch(ctx, fanout.StatusEvent(domain.StatusChange{InquiryID: "other", Status: domain.StatusIgnored}))
	select {
	case ev := <-a.Events():
		t.Fatalf("cross-conversation event leaked: %+v", ev)
	default:
	}

	a.Close()
	assert.Equal(t, 1, hub.Topics())
	b.Close()
	b.Close()
	assert.Equal(t, 0, hub.Topics())

	_, ok := <-a.Events()
	assert.False(t, ok)
	assert.NoError(t, a.Err())
}

func TestHub_SlowConsumerIsClosed(t *testing.T) {
	ctx := context.Background()
	log := &fakeLog{}
	hub := fanout.NewHub(log, fanout.Options{Buffer: 2})

	slow, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)
	fast, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)
	defer fast.Close()

	var got []fanout.Event
	for _, m := range log.add("inq", 3) {
		hub.Dispatch(ctx, fanout.MessageEvent(m))
		got = append(got, drain(t, fast, 1)...)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs(got))

	// два события в буфере, затем канал закрыт
	n := 0
	for range slow.Events() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, slow.Err(), fanout.ErrSlowConsumer)
}

func TestHub_BackfillFailureForcesResync(t *testing.T) {
	ctx := context.Background()
	log := &fakeLog{}
	hub := fanout.NewHub(log, fanout.Options{})

	sub, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)

	msgs := log.add("inq", 2)
	log.mu.Lock()
	log.failing = true
	log.mu.Unlock()

	hub.Dispatch(ctx, fanout.MessageEvent(msgs[1]))

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), fanout.ErrResync)
	assert.Equal(t, 0, hub.Topics())
}

func TestHub_Close(t *testing.T) {
	ctx := context.Background()
	hub := fanout.NewHub(&fakeLog{}, fanout.Options{})
	sub, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)

	hub.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), fanout.ErrHubClosed)

	_, err = hub.Subscribe(ctx, "inq")
	assert.ErrorIs(t, err, fanout.ErrHubClosed)
}

func TestLocalBroker_ConcurrentPublishersKeepOrder(t *testing.T) {
	ctx := context.Background()
	log := &fakeLog{}
	hub := fanout.NewHub(log, fanout.Options{Buffer: 256})
	broker := fanout.NewLocalBroker(hub)

	sub, err := hub.Subscribe(ctx, "inq")
	require.NoError(t, err)
	defer sub.Close()

	msgs := log.add("inq", 100)
	var wg sync.WaitGroup
	for i := len(msgs) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(m domain.Message) {
			defer wg.Done()
			assert.NoError(t, broker.Publish(ctx, fanout.MessageEvent(m)))
		}(msgs[i])
	}
	wg.Wait()

	got := seqs(drain(t, sub, 100))
	for i, s := range got {
		assert.EqualValues(t, i+1, s)
	}
}

// gateObserver зависает на открытии переписки block, пока не закрыт gate.
type gateObserver struct {
	block string
	gate  chan struct{}

	mu    sync.Mutex
	notes []string
}

func (o *gateObserver) TopicOpened(id string) {
	if id == o.block {
		<-o.gate
	}
	o.add("open:" + id)
}

func (o *gateObserver) TopicClosed(id string) { o.add("close:" + id) }

func (o *gateObserver) add(n string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, n)
}

func (o *gateObserver) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.notes...)
}

func TestHub_BlockedObserverDoesNotStallOtherTopics(t *testing.T) {
	ctx := context.Background()
	log := &fakeLog{}
	hub := fanout.NewHub(log, fanout.Options{})
	defer hub.Close()
	obs := &gateObserver{block: "inq-b", gate: make(chan struct{})}
	hub.SetObserver(obs)

	delivered := make(chan []int64, 1)
	go func() {
		subB, err := hub.Subscribe(ctx, "inq-b")
		if err != nil {
			delivered <- nil
			return
		}
		defer subB.Close()
		subA, err := hub.Subscribe(ctx, "inq-a")
		if err != nil {
			delivered <- nil
			return
		}
		defer subA.Close()

		m := log.add("inq-a", 1)[0]
		hub.Dispatch(ctx, fanout.MessageEvent(m))
		select {
		case ev := <-subA.Events():
			delivered <- []int64{ev.Message.Seq}
		case <-time.After(2 * time.Second):
			delivered <- nil
		}
	}()

	select {
	case got := <-delivered:
		assert.Equal(t, []int64{1}, got)
	case <-time.After(3 * time.Second):
		t.Fatal("dispatch to inq-a waited for the observer of inq-b")
	}

	// после разблокировки observer получает уведомления в порядке изменений
	close(obs.gate)
	require.Eventually(t, func() bool { return len(obs.seen()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"open:inq-b", "open:inq-a", "close:inq-a", "close:inq-b"}, obs.seen())
}
