package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultChannelPrefix = "inquiry:events:"

// RedisBroker связывает hub'ы разных инстансов через Redis Pub/Sub:
// по одному каналу на переписку, подписка только пока на инстансе есть зрители.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	hub    *Hub

	mu     sync.Mutex
	ps     *redis.PubSub
	closed bool
	wg     sync.WaitGroup

	opTimeout time.Duration
}

func NewRedisBroker(client redis.UniversalClient, prefix string, hub *Hub) *RedisBroker {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	b := &RedisBroker{
		client:    client,
		prefix:    prefix,
		hub:       hub,
		opTimeout: 3 * time.Second,
	}
	hub.SetObserver(b)
	return b
}

func (b *RedisBroker) channel(inquiryID string) string {
	return b.prefix + inquiryID
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(ev.InquiryID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// TopicOpened и TopicClosed вызываются из горутины уведомлений hub по одной, в порядке
// изменений topic'ов, поэтому сетевые вызовы здесь не задерживают доставку.
func (b *RedisBroker) TopicOpened(inquiryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opTimeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	ch := b.channel(inquiryID)
	if b.ps == nil {
		b.ps = b.client.Subscribe(ctx, ch)
		b.wg.Add(1)
		go b.relay(b.ps.Channel())
		return
	}
	if err := b.ps.Subscribe(ctx, ch); err != nil {
		slog.Warn("redis subscribe failed", "channel", ch, slog.Any("err", err))
	}
}

func (b *RedisBroker) TopicClosed(inquiryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opTimeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.ps == nil {
		return
	}
	ch := b.channel(inquiryID)
	if err := b.ps.Unsubscribe(ctx, ch); err != nil {
		slog.Warn("redis unsubscribe failed", "channel", ch, slog.Any("err", err))
	}
}

func (b *RedisBroker) relay(msgs <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range msgs {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			slog.Warn("redis event decode failed", "channel", msg.Channel, slog.Any("err", err))
			continue
		}
		if ev.InquiryID == "" {
			ev.InquiryID = strings.TrimPrefix(msg.Channel, b.prefix)
		}
		b.hub.Dispatch(context.Background(), ev)
	}
}

// Run держит брокер до отмены ctx, затем закрывает подписку.
func (b *RedisBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	return b.Close()
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps := b.ps
	b.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	b.wg.Wait()
	return err
}
