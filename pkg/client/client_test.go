package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/identity"
	"github.com/cwrk-planet/inquiry-service/internal/memstore"
	"github.com/cwrk-planet/inquiry-service/internal/service"
	transporthttp "github.com/cwrk-planet/inquiry-service/internal/transport/http"
	"github.com/cwrk-planet/inquiry-service/internal/transport/ws"
	"github.com/cwrk-planet/inquiry-service/pkg/api"
	"github.com/cwrk-planet/inquiry-service/pkg/client"
	"github.com/cwrk-planet/inquiry-service/pkg/reconcile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("client-test-secret-client-test-s")

type env struct {
	srv       *httptest.Server
	signer    *identity.Signer
	creatorID string
}

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

	store.PutProfile(domain.Profile{UserID: "u-b1", Kind: domain.ProfileBrand})
	store.PutProfile(domain.Profile{UserID: "u-b2", Kind: domain.ProfileBrand})
	creator := store.PutProfile(domain.Profile{UserID: "u-c1", Kind: domain.ProfileCreator})

	inquiries := service.NewInquiryService(store, store, broker)
	chat := service.NewChatService(store, store, broker, hub, cfg)
	verifier := identity.NewHMACVerifier(secret, "", "", 0)

	router := transporthttp.NewRouter(
		transporthttp.NewHandler(inquiries, chat),
		verifier,
		ws.NewServer(chat, verifier, ws.Options{PingEvery: time.Second}),
		transporthttp.RouterOptions{},
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{srv: srv, signer: identity.NewHMACSigner(secret, "", "", time.Hour), creatorID: creator.ID}
}

func (e *env) client(t *testing.T, userID string, role domain.Role) *client.Client {
	t.Helper()
	tok, err := e.signer.Sign(domain.Actor{UserID: userID, Role: role}, time.Now())
	require.NoError(t, err)
	c, err := client.New(e.srv.URL, tok)
	require.NoError(t, err)
	return c
}

func TestClient_LifecycleAndErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	brand := e.client(t, "u-b1", domain.RoleBrand)
	creator := e.client(t, "u-c1", domain.RoleCreator)

	inq, err := brand.CreateInquiry(ctx, e.creatorID, "Let's collaborate")
	require.NoError(t, err)
	assert.Equal(t, api.StatusPending, inq.Status)

	_, err = brand.SendMessage(ctx, inq.ID, "too early")
	assert.ErrorIs(t, err, client.ErrConversationNotOpen)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.StatusCode)

	_, err = brand.RespondToInquiry(ctx, inq.ID, api.DecisionAccept)
	assert.ErrorIs(t, err, client.ErrForbidden)

	inq, err = creator.RespondToInquiry(ctx, inq.ID, api.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, api.StatusAccepted, inq.Status)

	_, err = creator.RespondToInquiry(ctx, inq.ID, api.DecisionIgnore)
	assert.ErrorIs(t, err, client.ErrInvalidTransition)

	got, err := brand.GetInquiry(ctx, inq.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusAccepted, got.Status)

	_, err = brand.SendMessage(ctx, inq.ID, "Hi!")
	require.NoError(t, err)
	page, err := creator.ListMessages(ctx, inq.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Hi!", page.Items[0].Content)

	list, err := creator.ListInquiries(ctx, client.ListInquiriesParams{Status: api.StatusAccepted})
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)

	_, err = brand.GetInquiry(ctx, "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestFollow_ReconcilesPushWithOptimisticSend(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brand := e.client(t, "u-b1", domain.RoleBrand)
	creator := e.client(t, "u-c1", domain.RoleCreator)

	inq, err := brand.CreateInquiry(ctx, e.creatorID, "hi")
	require.NoError(t, err)
	_, err = creator.RespondToInquiry(ctx, inq.ID, api.DecisionAccept)
	require.NoError(t, err)
	_, err = creator.SendMessage(ctx, inq.ID, "before follow")
	require.NoError(t, err)

	rec := reconcile.New("u-b1", inq.ID, brand)
	var (
		connected atomic.Int32
		status    atomic.Value
	)
	done := make(chan error, 1)
	go func() {
		done <- brand.Follow(ctx, inq.ID, rec, client.FollowOptions{
			OnConnected: func() { connected.Add(1) },
			OnStatus:    func(s string) { status.Store(s) },
		})
	}()

	require.Eventually(t, func() bool { return connected.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, api.StatusAccepted, status.Load())
	require.Len(t, rec.Entries(), 1)

	_, err = creator.SendMessage(ctx, inq.ID, "live")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Entries()) == 2 }, 3*time.Second, 10*time.Millisecond)

	_, err = rec.Send(ctx, "from brand")
	require.NoError(t, err)
	// push того же сообщения не добавляет вторую запись
	time.Sleep(100 * time.Millisecond)
	entries := rec.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, 0, rec.Pending())
	assert.Equal(t, []string{"before follow", "live", "from brand"}, []string{
		entries[0].Message.Content, entries[1].Message.Content, entries[2].Message.Content,
	})

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFollow_CatchUpReadsPastServerPageLimit(t *testing.T) {
	e := newEnvWith(t, service.ChatConfig{MaxPageSize: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brand := e.client(t, "u-b1", domain.RoleBrand)
	creator := e.client(t, "u-c1", domain.RoleCreator)

	inq, err := brand.CreateInquiry(ctx, e.creatorID, "hi")
	require.NoError(t, err)
	_, err = creator.RespondToInquiry(ctx, inq.ID, api.DecisionAccept)
	require.NoError(t, err)
	const total = 25
	for i := 0; i < total; i++ {
		_, err = creator.SendMessage(ctx, inq.ID, fmt.Sprintf("m-%d", i+1))
		require.NoError(t, err)
	}

	rec := reconcile.New("u-b1", inq.ID, brand)
	// OnConnected срабатывает до первого Recv: в rec только то, что пришло через REST
	atConnect := make(chan int, 1)
	done := make(chan error, 1)
	go func() {
		done <- brand.Follow(ctx, inq.ID, rec, client.FollowOptions{
			PageSize:    200,
			OnConnected: func() { atConnect <- len(rec.Entries()) },
		})
	}()

	select {
	case n := <-atConnect:
		assert.Equal(t, total, n)
	case <-time.After(3 * time.Second):
		t.Fatal("follow did not connect")
	}
	assert.EqualValues(t, total, rec.LastSeq())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFollow_StopsOnPermanentError(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	brand := e.client(t, "u-b1", domain.RoleBrand)
	stranger := e.client(t, "u-b2", domain.RoleBrand)

	inq, err := brand.CreateInquiry(ctx, e.creatorID, "hi")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err = stranger.Follow(ctx, inq.ID, reconcile.New("u-b2", inq.ID, stranger), client.FollowOptions{})
	assert.ErrorIs(t, err, client.ErrForbidden)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSubscribe_Unauthorized(t *testing.T) {
	e := newEnv(t)
	c, err := client.New(e.srv.URL, "bogus")
	require.NoError(t, err)

	_, err = c.Subscribe(context.Background(), "any", "")
	assert.ErrorIs(t, err, client.ErrUnauthenticated)
}
