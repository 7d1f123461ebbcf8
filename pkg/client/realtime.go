package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/apperr"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Subscribe opens the conversation's websocket and calls onMessage for every
// message inserted from then on, from a single goroutine. It returns after
// the server confirms the subscription. Cancel ctx or call the returned func
// to stop; done is closed when the connection is gone.
func (c *Client) Subscribe(ctx context.Context, conversationID string, onMessage func(models.Message)) (stop func(), done <-chan struct{}, err error) {
	if err := c.requireSession(); err != nil {
		return nil, nil, err
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, nil, apperr.Validationf("invalid base url: %v", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws" + conversationPath(conversationID)
	u.RawQuery = url.Values{"token": {c.Token()}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, nil, decodeError(resp)
		}
		return nil, nil, apperr.StoreErr("websocket dial failed", err)
	}

	var first wsFrame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, nil, apperr.StoreErr("websocket handshake failed", err)
	}
	if first.Type != "subscribed" {
		conn.Close()
		return nil, nil, apperr.StoreErr("subscription refused: "+first.Error, nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(5*time.Second))
		conn.Close()
	}()
	go func() {
		defer close(finished)
		defer cancel()
		for {
			var f wsFrame
			if err := conn.ReadJSON(&f); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.log.Debug("websocket closed", zap.String("conversation_id", conversationID), zap.Error(err))
				}
				return
			}
			if f.Type == "message" && f.Message != nil {
				onMessage(*f.Message)
			}
		}
	}()
	return cancel, finished, nil
}
