package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cwrk-planet/inquiry-service/pkg/api"

	"github.com/gorilla/websocket"
)

type Event struct {
	Type    string
	Message *api.Message
	Status  *api.InquiryStatusChanged
}

// Stream: подписка на события одной переписки.
type Stream struct {
	conn       *websocket.Conn
	Subscribed api.Subscribed
}

// Subscribe открывает WS-подписку. Непустой cursor включает догрузку журнала после него.
func (c *Client) Subscribe(ctx context.Context, inquiryID, cursor string) (*Stream, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/ws/inquiries/" + url.PathEscape(inquiryID)
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	if c.token != "" {
		hdr.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, decodeError(resp)
			}
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	s := &Stream{conn: conn}
	var f api.Frame
	if err := conn.ReadJSON(&f); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read subscribed frame: %w", err)
	}
	if f.Type != api.FrameSubscribed {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", f.Type)
	}
	if err := json.Unmarshal(f.Payload, &s.Subscribed); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode subscribed frame: %w", err)
	}
	return s, nil
}

// Recv блокируется до следующего события. Неизвестные типы фреймов пропускаются.
func (s *Stream) Recv() (Event, error) {
	for {
		var f api.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return Event{}, err
		}
		switch f.Type {
		case api.FrameMessage:
			var m api.Message
			if err := json.Unmarshal(f.Payload, &m); err != nil {
				return Event{}, fmt.Errorf("decode message frame: %w", err)
			}
			return Event{Type: f.Type, Message: &m}, nil
		case api.FrameInquiryStatus:
			var st api.InquiryStatusChanged
			if err := json.Unmarshal(f.Payload, &st); err != nil {
				return Event{}, fmt.Errorf("decode status frame: %w", err)
			}
			return Event{Type: f.Type, Status: &st}, nil
		}
	}
}

func (s *Stream) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
