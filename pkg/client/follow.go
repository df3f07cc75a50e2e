package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cwrk-planet/inquiry-service/pkg/api"
	"github.com/cwrk-planet/inquiry-service/pkg/reconcile"
)

type FollowOptions struct {
	// OnStatus вызывается на каждое изменение статуса заявки, включая статус из фрейма subscribed.
	OnStatus func(status string)
	// OnConnected вызывается после каждой успешной (пере)подписки.
	OnConnected func()
	PageSize    int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Follow держит переписку в rec актуальной: догружает журнал, подписывается и при
// обрыве повторяет догрузку с последнего курсора. Возвращается при отмене ctx или
// при ошибке, повтор которой бессмыслен (нет доступа, заявка не найдена).
func (c *Client) Follow(ctx context.Context, inquiryID string, rec *reconcile.Reconciler, opts FollowOptions) error {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}

	var cursor string
	backoff := opts.MinBackoff
	for {
		connected, err := c.followOnce(ctx, inquiryID, rec, &cursor, opts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if permanent(err) {
			return err
		}
		if connected {
			backoff = opts.MinBackoff
		}
		slog.Debug("client.Follow: reconnecting", "inquiry", inquiryID, "backoff", backoff, slog.Any("err", err))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}

// followOnce возвращает true, если подписка была установлена.
func (c *Client) followOnce(ctx context.Context, inquiryID string, rec *reconcile.Reconciler, cursor *string, opts FollowOptions) (bool, error) {
	if err := c.catchUp(ctx, inquiryID, rec, cursor, opts.PageSize); err != nil {
		return false, err
	}

	stream, err := c.Subscribe(ctx, inquiryID, *cursor)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	if opts.OnStatus != nil {
		opts.OnStatus(stream.Subscribed.Status)
	}
	if opts.OnConnected != nil {
		opts.OnConnected()
	}

	for {
		ev, err := stream.Recv()
		if err != nil {
			return true, err
		}
		switch {
		case ev.Message != nil:
			rec.Apply(*ev.Message)
		case ev.Status != nil && opts.OnStatus != nil:
			opts.OnStatus(ev.Status.Status)
		}
	}
}

// catchUp дочитывает журнал от cursor до конца и сдвигает cursor.
// Сервер может отдать страницу меньше запрошенной, конец журнала: пустая страница.
func (c *Client) catchUp(ctx context.Context, inquiryID string, rec *reconcile.Reconciler, cursor *string, pageSize int) error {
	for {
		page, err := c.ListMessages(ctx, inquiryID, *cursor, pageSize)
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			return nil
		}
		for _, m := range page.Items {
			rec.Apply(m)
		}
		if page.NextCursor == "" || page.NextCursor == *cursor {
			return nil
		}
		*cursor = page.NextCursor
	}
}

func permanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case api.CodeUnauthenticated, api.CodeForbidden, api.CodeNotFound, api.CodeInvalidRole, api.CodeInvalidCursor:
		return true
	default:
		return false
	}
}
