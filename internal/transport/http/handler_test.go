package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/identity"
	"github.com/cwrk-planet/inquiry-service/internal/memstore"
	"github.com/cwrk-planet/inquiry-service/internal/service"
	transporthttp "github.com/cwrk-planet/inquiry-service/internal/transport/http"
	"github.com/cwrk-planet/inquiry-service/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("handler-test-secret-handler-test")

type env struct {
	srv     *httptest.Server
	signer  *identity.Signer
	creator domain.Profile
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memstore.New()
	hub := fanout.NewHub(store, fanout.Options{})
	broker := fanout.NewLocalBroker(hub)

	store.PutProfile(domain.Profile{UserID: "u-b1", Kind: domain.ProfileBrand})
	store.PutProfile(domain.Profile{UserID: "u-b2", Kind: domain.ProfileBrand})
	creator := store.PutProfile(domain.Profile{UserID: "u-c1", Kind: domain.ProfileCreator})

	h := transporthttp.NewHandler(
		service.NewInquiryService(store, store, broker),
		service.NewChatService(store, store, broker, hub, service.ChatConfig{}),
	)
	verifier := identity.NewHMACVerifier(secret, "cwrk", "", 0)
	srv := httptest.NewServer(transporthttp.NewRouter(h, verifier, nil, transporthttp.RouterOptions{}))
	t.Cleanup(srv.Close)

	return &env{
		srv:     srv,
		signer:  identity.NewHMACSigner(secret, "cwrk", "", time.Hour),
		creator: creator,
	}
}

func (e *env) token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	tok, err := e.signer.Sign(domain.Actor{UserID: userID, Role: role}, time.Now())
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestInquiryLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	brand := e.token(t, "u-b1", domain.RoleBrand)
	otherBrand := e.token(t, "u-b2", domain.RoleBrand)
	creator := e.token(t, "u-c1", domain.RoleCreator)

	var inq api.Inquiry
	code := e.do(t, http.MethodPost, "/v1/inquiries", brand,
		api.CreateInquiryRequest{CreatorID: e.creator.ID, Message: "Let's collaborate"}, &inq)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, api.StatusPending, inq.Status)

	var apiErr api.ErrorResponse
	code = e.do(t, http.MethodPost, "/v1/inquiries/"+inq.ID+"/messages", brand, api.SendMessageRequest{Content: "early"}, &apiErr)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, api.CodeConversationNotOpen, apiErr.Error.Code)

	code = e.do(t, http.MethodPost, "/v1/inquiries/"+inq.ID+"/respond", creator, api.RespondRequest{Decision: "accept"}, &inq)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.StatusAccepted, inq.Status)

	code = e.do(t, http.MethodPost, "/v1/inquiries/"+inq.ID+"/respond", creator, api.RespondRequest{Decision: "accept"}, &apiErr)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, api.CodeInvalidTransition, apiErr.Error.Code)

	var m api.Message
	code = e.do(t, http.MethodPost, "/v1/inquiries/"+inq.ID+"/messages", brand, api.SendMessageRequest{Content: "Hi!"}, &m)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Hi!", m.Content)
	assert.Equal(t, "u-b1", m.SenderID)

	code = e.do(t, http.MethodPost, "/v1/inquiries/"+inq.ID+"/messages", otherBrand, api.SendMessageRequest{Content: "me too"}, &apiErr)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, api.CodeForbidden, apiErr.Error.Code)

	var page api.MessageList
	code = e.do(t, http.MethodGet, "/v1/inquiries/"+inq.ID+"/messages", creator, nil, &page)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page.Items, 1)
	assert.Equal(t, m.ID, page.Items[0].ID)
	assert.NotEmpty(t, page.NextCursor)

	code = e.do(t, http.MethodGet, "/v1/inquiries/"+inq.ID+"/messages?cursor="+page.NextCursor, creator, nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, page.Items)

	var list api.InquiryList
	code = e.do(t, http.MethodGet, "/v1/inquiries?status=accepted", creator, nil, &list)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list.Items, 1)
	assert.Equal(t, inq.ID, list.Items[0].ID)
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	brand := e.token(t, "u-b1", domain.RoleBrand)
	creator := e.token(t, "u-c1", domain.RoleCreator)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/v1/inquiries", "", nil, http.StatusUnauthorized, api.CodeUnauthenticated},
		{"bad token", http.MethodGet, "/v1/inquiries", "garbage", nil, http.StatusUnauthorized, api.CodeUnauthenticated},
		{"creator submits", http.MethodPost, "/v1/inquiries", creator, api.CreateInquiryRequest{CreatorID: e.creator.ID}, http.StatusForbidden, api.CodeInvalidRole},
		{"unknown creator", http.MethodPost, "/v1/inquiries", brand, api.CreateInquiryRequest{CreatorID: "nope"}, http.StatusNotFound, api.CodeNotFound},
		{"unknown inquiry", http.MethodGet, "/v1/inquiries/nope", brand, nil, http.StatusNotFound, api.CodeNotFound},
		{"bad decision", http.MethodPost, "/v1/inquiries/nope/respond", creator, api.RespondRequest{Decision: "maybe"}, http.StatusBadRequest, api.CodeValidation},
		{"bad cursor", http.MethodGet, "/v1/inquiries?cursor=zzz", brand, nil, http.StatusBadRequest, api.CodeInvalidCursor},
		{"bad limit", http.MethodGet, "/v1/inquiries?limit=x", brand, nil, http.StatusBadRequest, api.CodeValidation},
		{"bad status", http.MethodGet, "/v1/inquiries?status=closed", brand, nil, http.StatusBadRequest, api.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var apiErr api.ErrorResponse
			code := e.do(t, tc.method, tc.path, tc.token, tc.body, &apiErr)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, tc.code, apiErr.Error.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := e.srv.Client().Get(e.srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
