package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/callrelay/internal/reliability"
)

const DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"

// Dialer opens realtime model connections.
type Dialer struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// Attempts bounds dials rejected with a retryable HTTP status.
	Attempts int
}

func (d Dialer) endpoint(model string) (string, error) {
	base := strings.TrimSpace(d.URL)
	if base == "" {
		base = DefaultRealtimeURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	if strings.TrimSpace(model) != "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the model endpoint for model.
func (d Dialer) Dial(ctx context.Context, model string) (Stream, error) {
	endpoint, err := d.endpoint(model)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	var conn *websocket.Conn
	err = reliability.Retry(ctx, d.Attempts, 250*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		c, resp, err := dialer.DialContext(ctx, endpoint, headers)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("dial realtime websocket: status %d: %w", resp.StatusCode, err)
				if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
					return reliability.Retryable(err)
				}
				return err
			}
			return fmt.Errorf("dial realtime websocket: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, SocketOptions{WriteTimeout: d.WriteTimeout}), nil
}
