package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/repository"
	"github.com/cwrk-planet/inquiry-service/internal/transport/apiconv"
	httpmw "github.com/cwrk-planet/inquiry-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/inquiry-service/pkg/api"
	"github.com/cwrk-planet/inquiry-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// CloseResync: код закрытия, после которого клиент дочитывает журнал и переподписывается.
const CloseResync = 4000

type ChatSvc interface {
	Subscribe(ctx context.Context, actor domain.Actor, inquiryID string) (*fanout.Subscription, *domain.Inquiry, error)
	List(ctx context.Context, actor domain.Actor, inquiryID, cursor string, limit int) ([]domain.Message, string, error)
}

type Options struct {
	PingEvery      time.Duration
	SendTimeout    time.Duration
	CatchUpPage    int
	AllowedOrigins []string
}

type Server struct {
	upgrader websocket.Upgrader
	chatSvc  ChatSvc
	verifier httpmw.TokenVerifier

	pingEvery   time.Duration
	sendTimeout time.Duration
	catchUpPage int
}

func NewServer(chat ChatSvc, verifier httpmw.TokenVerifier, opts Options) *Server {
	if opts.PingEvery <= 0 {
		opts.PingEvery = 15 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.CatchUpPage <= 0 {
		opts.CatchUpPage = 200
	}
	return &Server{
		chatSvc:  chat,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
		pingEvery:   opts.PingEvery,
		sendTimeout: opts.SendTimeout,
		catchUpPage: opts.CatchUpPage,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// WS endpoint: GET /v1/ws/inquiries/{id}?access_token=...&cursor=...
// Ошибки авторизации и доступа отдаются обычным HTTP-ответом до апгрейда.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := s.verifier.Verify(ctx, httpmw.BearerToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	inquiryID := chi.URLParam(r, "id")
	cursor := r.URL.Query().Get("cursor")
	after, err := repository.DecodeSeqCursor(cursor)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sub, inq, err := s.chatSvc.Subscribe(ctx, actor, inquiryID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам пишет ответ клиенту
		slog.WarnContext(ctx, "ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, inquiryID, actor.UserID, s.sendTimeout)
	slog.DebugContext(ctx, "ws subscribed", "inquiry", inquiryID, "user", actor.UserID, "start", sub.Start())

	go s.writeLoop(ctx, c, actor, sub, inq, cursor, after)
	s.readLoop(c)

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "inquiry", inquiryID, "user", actor.UserID, "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := apiconv.ErrorCode(err)
	httputil.Error(r.Context(), w, status, code, err.Error())
}

// readLoop держит соединение: принимает pong и close, входящие данные игнорирует.
func (s *Server) readLoop(c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(4 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn, actor domain.Actor, sub *fanout.Subscription, inq *domain.Inquiry, cursor string, after int64) {
	defer func() { _ = c.Close() }()

	subscribed, err := api.NewFrame(api.FrameSubscribed, api.Subscribed{
		InquiryID: inq.ID,
		Status:    string(inq.Status),
		Cursor:    repository.EncodeSeqCursor(sub.Start()),
	})
	if err != nil || c.Send(subscribed) != nil {
		return
	}

	// последний seq, который клиент уже видел: всё, что не новее, считаем дублем
	last := after
	if cursor != "" {
		if last, err = s.catchUp(ctx, c, actor, cursor, after, sub.Start()); err != nil {
			slog.WarnContext(ctx, "ws catch-up failed", "inquiry", c.inquiryID, "user", c.userID, "err", err)
			c.closeWith(CloseResync, "catch-up failed")
			return
		}
	}

	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				s.closeForSubscription(c, sub.Err())
				return
			}
			if ev.Kind == fanout.KindMessage {
				if ev.Message.Seq <= last {
					continue
				}
				last = ev.Message.Seq
			}
			frame, err := apiconv.Frame(ev)
			if err != nil {
				slog.Error("ws.writeLoop.Frame:", slog.Any("err", err))
				continue
			}
			if err := c.Send(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.sendTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// catchUp отправляет записи журнала после cursor вплоть до головы на момент подписки.
// Сервис может урезать страницу до своего лимита, поэтому граница чтения: until или пустая страница.
func (s *Server) catchUp(ctx context.Context, c *wsConn, actor domain.Actor, cursor string, after, until int64) (int64, error) {
	last := after
	for last < until {
		msgs, next, err := s.chatSvc.List(ctx, actor, c.inquiryID, cursor, s.catchUpPage)
		if err != nil {
			return last, err
		}
		if len(msgs) == 0 {
			return last, nil
		}
		for _, m := range msgs {
			if m.Seq > until {
				return last, nil
			}
			frame, err := api.NewFrame(api.FrameMessage, apiconv.Message(m))
			if err != nil {
				return last, err
			}
			if err := c.Send(frame); err != nil {
				return last, err
			}
			last = m.Seq
		}
		cursor = next
	}
	return last, nil
}

func (s *Server) closeForSubscription(c *wsConn, err error) {
	switch {
	case err == nil:
		c.closeWith(websocket.CloseNormalClosure, "")
	case errors.Is(err, fanout.ErrHubClosed):
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	default:
		slog.Warn("ws subscription dropped", "inquiry", c.inquiryID, "user", c.userID, "err", err)
		c.closeWith(CloseResync, "resync required")
	}
}

// --- helpers ---

type wsConn struct {
	conn      *websocket.Conn
	inquiryID string
	userID    string
	timeout   time.Duration
	sendMu    chan struct{}
	closed    chan struct{}
}

func newWsConn(c *websocket.Conn, inquiryID, userID string, timeout time.Duration) *wsConn {
	return &wsConn{
		conn:      c,
		inquiryID: inquiryID,
		userID:    userID,
		timeout:   timeout,
		sendMu:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (c *wsConn) Send(frame api.Frame) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))

	return c.conn.WriteJSON(frame)
}

func (c *wsConn) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.timeout))
}

func (c *wsConn) Close() error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}

	return c.conn.Close()
}
