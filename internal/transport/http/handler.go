package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/service"
	"github.com/cwrk-planet/inquiry-service/internal/transport/apiconv"
	httpmw "github.com/cwrk-planet/inquiry-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/inquiry-service/pkg/api"
	"github.com/cwrk-planet/inquiry-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	inquirySvc *service.InquiryService
	chatSvc    *service.ChatService
}

func NewHandler(inquiries *service.InquiryService, chat *service.ChatService) *Handler {
	return &Handler{
		inquirySvc: inquiries,
		chatSvc:    chat,
	}
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code, status := apiconv.ErrorCode(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), op, slog.Any("err", err))
	} else {
		slog.DebugContext(r.Context(), op, slog.Any("err", err))
	}
	msg := err.Error()
	if code == api.CodeInternal {
		msg = "internal error"
	}
	httputil.Error(r.Context(), w, status, code, msg)
}

func actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := httpmw.ActorFromCtx(r.Context())
	if !ok {
		httputil.Error(r.Context(), w, http.StatusUnauthorized, api.CodeUnauthenticated, "missing actor")
	}
	return a, ok
}

func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrValidation)
	}
	return n, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := httputil.DecodeJSON(w, r, dst, maxBodyBytes); err != nil {
		return fmt.Errorf("%w: invalid json body", domain.ErrValidation)
	}
	return nil
}

// POST /v1/inquiries
func (h *Handler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req api.CreateInquiryRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, "handler.CreateInquiry.Decode:", err)
		return
	}
	inq, err := h.inquirySvc.Create(r.Context(), a, req.CreatorID, req.Message)
	if err != nil {
		writeError(w, r, "handler.CreateInquiry:", err)
		return
	}

	httputil.JSON(w, http.StatusCreated, apiconv.Inquiry(*inq))
}

// GET /v1/inquiries?limit=&cursor=&status=
func (h *Handler) ListInquiries(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, "handler.ListInquiries:", err)
		return
	}
	q := r.URL.Query()

	items, next, err := h.inquirySvc.List(r.Context(), a, q.Get("status"), limit, q.Get("cursor"))
	if err != nil {
		writeError(w, r, "handler.ListInquiries:", err)
		return
	}

	httputil.JSON(w, http.StatusOK, api.InquiryList{Items: apiconv.Inquiries(items), NextCursor: next})
}

// GET /v1/inquiries/{id}
func (h *Handler) GetInquiry(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	inq, err := h.inquirySvc.Get(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "handler.GetInquiry:", err)
		return
	}

	httputil.JSON(w, http.StatusOK, apiconv.Inquiry(*inq))
}

// POST /v1/inquiries/{id}/respond
func (h *Handler) RespondToInquiry(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req api.RespondRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, "handler.RespondToInquiry.Decode:", err)
		return
	}
	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, r, "handler.RespondToInquiry:", err)
		return
	}
	inq, err := h.inquirySvc.Respond(r.Context(), a, chi.URLParam(r, "id"), decision)
	if err != nil {
		writeError(w, r, "handler.RespondToInquiry:", err)
		return
	}

	httputil.JSON(w, http.StatusOK, apiconv.Inquiry(*inq))
}

// GET /v1/inquiries/{id}/messages?cursor=&limit=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, "handler.ListMessages:", err)
		return
	}

	msgs, next, err := h.chatSvc.List(r.Context(), a, chi.URLParam(r, "id"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, r, "handler.ListMessages:", err)
		return
	}

	httputil.JSON(w, http.StatusOK, api.MessageList{Items: apiconv.Messages(msgs), NextCursor: next})
}

// POST /v1/inquiries/{id}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	var req api.SendMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, "handler.SendMessage.Decode:", err)
		return
	}
	m, err := h.chatSvc.Send(r.Context(), a, chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(w, r, "handler.SendMessage:", err)
		return
	}

	httputil.JSON(w, http.StatusCreated, apiconv.Message(*m))
}
