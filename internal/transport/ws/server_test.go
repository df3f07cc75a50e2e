package ws_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/identity"
	"github.com/cwrk-planet/inquiry-service/internal/memstore"
	"github.com/cwrk-planet/inquiry-service/internal/repository"
	"github.com/cwrk-planet/inquiry-service/internal/service"
	"github.com/cwrk-planet/inquiry-service/internal/transport/ws"
	"github.com/cwrk-planet/inquiry-service/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("ws-test-secret-ws-test-secret-ws")

type env struct {
	srv       *httptest.Server
	signer    *identity.Signer
	inquiries *service.InquiryService
	chat      *service.ChatService
	creator   domain.Profile
}

var (
	brand   = domain.Actor{UserID: "u-b1", Role: domain.RoleBrand}
	creator = domain.Actor{UserID: "u-c1", Role: domain.RoleCreator}
	other   = domain.Actor{UserID: "u-b2", Role: domain.RoleBrand}
)

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, service.ChatConfig{})
}

func newEnvWith(t *testing.T, cfg service.ChatConfig) *env {
	t.Helper()
	store := memstore.New()
	hub := fanout.NewHub(store, fanout.Options{})
	t.Cleanup(hub.Close)
	broker := fanout.NewLocalBroker(hub)

	store.PutProfile(domain.Profile{UserID: brand.UserID, Kind: domain.ProfileBrand})
	store.PutProfile(domain.Profile{UserID: other.UserID, Kind: domain.ProfileBrand})
	c := store.PutProfile(domain.Profile{UserID: creator.UserID, Kind: domain.ProfileCreator})

	e := &env{
		signer:    identity.NewHMACSigner(secret, "", "", time.Hour),
		inquiries: service.NewInquiryService(store, store, broker),
		chat:      service.NewChatService(store, store, broker, hub, cfg),
		creator:   c,
	}
	srv := ws.NewServer(e.chat, identity.NewHMACVerifier(secret, "", "", 0), ws.Options{PingEvery: time.Second})

	r := chi.NewRouter()
	r.Get("/v1/ws/inquiries/{id}", srv.ServeHTTP)
	e.srv = httptest.NewServer(r)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) dial(t *testing.T, a domain.Actor, inquiryID, cursor string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	tok, err := e.signer.Sign(a, time.Now())
	require.NoError(t, err)

	q := url.Values{"access_token": {tok}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/ws/inquiries/" + inquiryID + "?" + q.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) api.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f api.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readMessage(t *testing.T, conn *websocket.Conn) api.Message {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, api.FrameMessage, f.Type)
	var m api.Message
	require.NoError(t, json.Unmarshal(f.Payload, &m))
	return m
}

func (e *env) acceptedInquiry(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	inq, err := e.inquiries.Create(ctx, brand, e.creator.ID, "hi")
	require.NoError(t, err)
	_, err = e.inquiries.Respond(ctx, creator, inq.ID, domain.DecisionAccept)
	require.NoError(t, err)
	return inq.ID
}

func TestSubscribe_LiveOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.acceptedInquiry(t)
	_, err := e.chat.Send(ctx, brand, id, "before")
	require.NoError(t, err)

	conn, _, err := e.dial(t, creator, id, "")
	require.NoError(t, err)

	f := readFrame(t, conn)
	require.Equal(t, api.FrameSubscribed, f.Type)
	var sub api.Subscribed
	require.NoError(t, json.Unmarshal(f.Payload, &sub))
	assert.Equal(t, api.StatusAccepted, sub.Status)
	assert.Equal(t, repository.EncodeSeqCursor(1), sub.Cursor)

	_, err = e.chat.Send(ctx, brand, id, "live")
	require.NoError(t, err)

	m := readMessage(t, conn)
	assert.Equal(t, "live", m.Content)
	assert.EqualValues(t, 2, m.Seq)
}

func TestSubscribe_CatchUpThenLiveWithoutDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.acceptedInquiry(t)
	for _, s := range []string{"one", "two", "three"} {
		_, err := e.chat.Send(ctx, brand, id, s)
		require.NoError(t, err)
	}

	conn, _, err := e.dial(t, creator, id, repository.EncodeSeqCursor(1))
	require.NoError(t, err)
	require.Equal(t, api.FrameSubscribed, readFrame(t, conn).Type)

	assert.Equal(t, "two", readMessage(t, conn).Content)
	assert.Equal(t, "three", readMessage(t, conn).Content)

	_, err = e.chat.Send(ctx, creator, id, "four")
	require.NoError(t, err)
	m := readMessage(t, conn)
	assert.Equal(t, "four", m.Content)
	assert.EqualValues(t, 4, m.Seq)
}

func TestSubscribe_CatchUpSpansServicePages(t *testing.T) {
	// страница сервиса меньше страницы догрузки WS-сервера
	e := newEnvWith(t, service.ChatConfig{MaxPageSize: 50})
	ctx := context.Background()
	id := e.acceptedInquiry(t)
	const total = 120
	for i := 0; i < total; i++ {
		_, err := e.chat.Send(ctx, brand, id, fmt.Sprintf("m-%d", i+1))
		require.NoError(t, err)
	}

	conn, _, err := e.dial(t, creator, id, repository.EncodeSeqCursor(0))
	require.NoError(t, err)
	require.Equal(t, api.FrameSubscribed, readFrame(t, conn).Type)

	for i := 1; i <= total; i++ {
		m := readMessage(t, conn)
		require.EqualValues(t, i, m.Seq)
	}

	_, err = e.chat.Send(ctx, creator, id, "live")
	require.NoError(t, err)
	m := readMessage(t, conn)
	assert.Equal(t, "live", m.Content)
	assert.EqualValues(t, total+1, m.Seq)
}

func TestSubscribe_StatusChangeIsPushed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inq, err := e.inquiries.Create(ctx, brand, e.creator.ID, "hi")
	require.NoError(t, err)

	conn, _, err := e.dial(t, brand, inq.ID, "")
	require.NoError(t, err)
	f := readFrame(t, conn)
	var sub api.Subscribed
	require.NoError(t, json.Unmarshal(f.Payload, &sub))
	assert.Equal(t, api.StatusPending, sub.Status)

	_, err = e.inquiries.Respond(ctx, creator, inq.ID, domain.DecisionIgnore)
	require.NoError(t, err)

	f = readFrame(t, conn)
	require.Equal(t, api.FrameInquiryStatus, f.Type)
	var st api.InquiryStatusChanged
	require.NoError(t, json.Unmarshal(f.Payload, &st))
	assert.Equal(t, api.StatusIgnored, st.Status)
	assert.Equal(t, creator.UserID, st.ChangedBy)
}

func TestSubscribe_RejectedBeforeUpgrade(t *testing.T) {
	e := newEnv(t)
	id := e.acceptedInquiry(t)

	_, resp, err := e.dial(t, other, id, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = e.dial(t, creator, "missing", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = e.dial(t, creator, id, "not-a-cursor!")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
