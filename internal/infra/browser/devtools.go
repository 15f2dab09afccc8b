// Package browser resolves marketplace captchas through a locally
// running Chrome: the challenge opens in a visible tab the operator
// completes by hand, then the solved session cookies are read back
// over the DevTools protocol.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const probeInterval = 2 * time.Second

// challengeGoneProbe reports whether the captcha modal is absent or
// hidden, i.e. the operator finished the challenge.
const challengeGoneProbe = `(function(){var m=document.querySelector('#captcha-modal');return !m||m.offsetParent===null;})()`

// Solver talks to Chrome started with --remote-debugging-port.
type Solver struct {
	devtoolsURL string
	client      *http.Client
	logger      *zap.Logger
}

func NewSolver(devtoolsURL string, logger *zap.Logger) *Solver {
	return &Solver{
		devtoolsURL: devtoolsURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

type target struct {
	ID                   string `json:"id"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Solve opens the challenge URL in a new tab and waits for the captcha
// to disappear, bounded by ctx. The tab is closed on every exit path.
func (s *Solver) Solve(ctx context.Context, challengeURL string) ([]*http.Cookie, error) {
	tgt, err := s.openTab(ctx, challengeURL)
	if err != nil {
		return nil, fmt.Errorf("open challenge tab: %w", err)
	}
	defer s.closeTab(tgt.ID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, tgt.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	sess := &session{conn: conn}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	s.logger.Info("challenge tab opened, waiting for operator", zap.String("url", challengeURL))

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		solved, err := sess.challengeGone(ctx)
		if err != nil {
			return nil, fmt.Errorf("probe challenge state: %w", err)
		}
		if solved {
			s.logger.Info("challenge resolved")
			return sess.cookies(ctx)
		}
	}
}

func (s *Solver) openTab(ctx context.Context, pageURL string) (*target, error) {
	// newer Chrome requires PUT on /json/new
	endpoint := fmt.Sprintf("%s/json/new?%s", s.devtoolsURL, url.QueryEscape(pageURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("devtools /json/new: HTTP %d", resp.StatusCode)
	}

	var tgt target
	if err := json.NewDecoder(resp.Body).Decode(&tgt); err != nil {
		return nil, err
	}
	if tgt.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("devtools target has no debugger url")
	}
	return &tgt, nil
}

func (s *Solver) closeTab(targetID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/json/close/%s", s.devtoolsURL, targetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("failed to close challenge tab", zap.String("target_id", targetID), zap.Error(err))
		return
	}
	resp.Body.Close()
}

// session is one CDP connection with request/response matching by id.
type session struct {
	conn *websocket.Conn
	seq  uint32
}

type cdpRequest struct {
	ID     int         `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *session) call(ctx context.Context, method string, params, out interface{}) error {
	id := int(atomic.AddUint32(&s.seq, 1))
	if err := s.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var resp cdpResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			return err
		}
		if resp.ID != id {
			// protocol event or stale reply
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("devtools %s: %s", method, resp.Error.Message)
		}
		if out != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, out)
		}
		return nil
	}
}

func (s *session) challengeGone(ctx context.Context) (bool, error) {
	var result struct {
		Result struct {
			Value bool `json:"value"`
		} `json:"result"`
	}
	err := s.call(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    challengeGoneProbe,
		"returnByValue": true,
	}, &result)
	if err != nil {
		return false, err
	}
	return result.Result.Value, nil
}

func (s *session) cookies(ctx context.Context) ([]*http.Cookie, error) {
	var result struct {
		Cookies []struct {
			Name     string  `json:"name"`
			Value    string  `json:"value"`
			Domain   string  `json:"domain"`
			Path     string  `json:"path"`
			Expires  float64 `json:"expires"`
			Secure   bool    `json:"secure"`
			HTTPOnly bool    `json:"httpOnly"`
		} `json:"cookies"`
	}
	if err := s.call(ctx, "Network.getCookies", nil, &result); err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(result.Cookies))
	for _, c := range result.Cookies {
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}
