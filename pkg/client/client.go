// Package client реализует Go-клиент HTTP/WS API сервиса заявок.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/inquiry-service/pkg/api"

	"github.com/gorilla/websocket"
)

type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(cl *Client) { cl.dialer = d }
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", baseURL)
	}
	c := &Client{
		base:   u,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.DefaultDialer,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) CreateInquiry(ctx context.Context, creatorID, message string) (api.Inquiry, error) {
	var out api.Inquiry
	err := c.do(ctx, http.MethodPost, "/v1/inquiries", nil, api.CreateInquiryRequest{CreatorID: creatorID, Message: message}, &out)
	return out, err
}

type ListInquiriesParams struct {
	Status string
	Limit  int
	Cursor string
}

func (c *Client) ListInquiries(ctx context.Context, p ListInquiriesParams) (api.InquiryList, error) {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Cursor != "" {
		q.Set("cursor", p.Cursor)
	}
	var out api.InquiryList
	err := c.do(ctx, http.MethodGet, "/v1/inquiries", q, nil, &out)
	return out, err
}

func (c *Client) GetInquiry(ctx context.Context, id string) (api.Inquiry, error) {
	var out api.Inquiry
	err := c.do(ctx, http.MethodGet, "/v1/inquiries/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) RespondToInquiry(ctx context.Context, id, decision string) (api.Inquiry, error) {
	var out api.Inquiry
	err := c.do(ctx, http.MethodPost, "/v1/inquiries/"+url.PathEscape(id)+"/respond", nil, api.RespondRequest{Decision: decision}, &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, inquiryID, cursor string, limit int) (api.MessageList, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out api.MessageList
	err := c.do(ctx, http.MethodGet, "/v1/inquiries/"+url.PathEscape(inquiryID)+"/messages", q, nil, &out)
	return out, err
}

// SendMessage реализует reconcile.Sender.
func (c *Client) SendMessage(ctx context.Context, inquiryID, content string) (api.Message, error) {
	var out api.Message
	err := c.do(ctx, http.MethodPost, "/v1/inquiries/"+url.PathEscape(inquiryID)+"/messages", nil, api.SendMessageRequest{Content: content}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Code = api.CodeInternal
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
