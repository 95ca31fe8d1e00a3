package dealer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"SpotWire/logger"
)

// ErrHandshake covers a failed dealer handshake or device registration.
// Both abort the run; the connection is never retried internally.
var ErrHandshake = errors.New("dealer: handshake failed")

// State is the connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateRegistering
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateRegistering:
		return "registering"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// TokenSource supplies the bearer token for the dial and registration
// calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// PayloadHandler receives every payload of an inbound message frame, plus
// the synthetic ON_LOAD payload built from the registration response.
type PayloadHandler func(payload map[string]any)

// Options configures a dealer connection.
type Options struct {
	DealerHost        string
	SpClientHost      string
	DeviceID          string
	DeviceName        string
	VisibleMode       bool // announce the device before registering
	HeartbeatInterval time.Duration
	PongWarnThreshold time.Duration // latency warning cutoff, milliseconds semantics
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
}

// Stats is a point-in-time view for the status server.
type Stats struct {
	State        string `json:"state"`
	ConnectionID string `json:"connection_id,omitempty"`
	DeviceID     string `json:"device_id"`
	LastPingAt   int64  `json:"last_ping_at_ms,omitempty"`
	LatencyMs    int64  `json:"latency_ms,omitempty"`
}

// Conn is one persistent dealer connection. A Conn runs at most once; a
// dropped stream ends the run and reconnect policy belongs to the caller.
type Conn struct {
	opts    Options
	tokens  TokenSource
	handler PayloadHandler

	mu           sync.Mutex
	state        State
	connectionID string
	lastPingAt   time.Time
	latency      time.Duration
}

// NewConn builds a dealer connection. handler is invoked synchronously
// from the frame pump, in frame order.
func NewConn(opts Options, tokens TokenSource, handler PayloadHandler) *Conn {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.PongWarnThreshold <= 0 {
		opts.PongWarnThreshold = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{opts: opts, tokens: tokens, handler: handler}
}

// Stats returns the current connection stats.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		State:        c.state.String(),
		ConnectionID: c.connectionID,
		DeviceID:     c.opts.DeviceID,
		LatencyMs:    c.latency.Milliseconds(),
	}
	if !c.lastPingAt.IsZero() {
		s.LastPingAt = c.lastPingAt.UnixMilli()
	}
	return s
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run dials the dealer, registers the device and pumps frames until the
// stream ends or ctx is cancelled. It returns nil on a normal end of
// stream and an error when handshake or registration fails.
func (c *Conn) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	c.setState(StateHandshaking)
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	dealerURL := url.URL{
		Scheme:   "wss",
		Host:     c.opts.DealerHost,
		Path:     "/",
		RawQuery: url.Values{"access_token": {token}}.Encode(),
	}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, dealerURL.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrHandshake, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	// The first frame must carry the connection id; without it the
	// connection is unusable.
	var first map[string]any
	if err := ws.ReadJSON(&first); err != nil {
		return fmt.Errorf("%w: reading connection frame: %v", ErrHandshake, err)
	}
	connectionID := headerValue(first, "Spotify-Connection-Id")
	if connectionID == "" {
		return fmt.Errorf("%w: no Spotify-Connection-Id in first frame", ErrHandshake)
	}
	c.mu.Lock()
	c.connectionID = connectionID
	c.mu.Unlock()
	logger.Info("dealer connected", logger.String("device_id", c.opts.DeviceID))

	c.setState(StateRegistering)
	if c.opts.VisibleMode {
		if err := c.announceDevice(ctx, token, connectionID); err != nil {
			return err
		}
	}
	initial, err := c.registerDevice(ctx, token, connectionID)
	if err != nil {
		return err
	}

	c.setState(StateStreaming)

	// The registration response is the first full cluster; deliver it
	// as a synthetic update before any streamed frame.
	if len(initial) > 0 {
		c.handler(map[string]any{
			"update_reason": "ON_LOAD",
			"cluster":       initial,
		})
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	var writeMu sync.Mutex
	go c.heartbeat(hbCtx, ws, &writeMu)

	// Close the socket when ctx is cancelled so the blocking read
	// returns.
	go func() {
		<-hbCtx.Done()
		ws.Close()
	}()

	return c.pump(ctx, ws)
}

// pump reads frames until the stream ends. Malformed frames are skipped;
// they never end the run.
func (c *Conn) pump(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Info("dealer stream ended", logger.ErrorField(err))
			return nil
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("skipping malformed dealer frame", logger.ErrorField(err))
			continue
		}

		switch t, _ := frame["type"].(string); t {
		case "pong":
			c.handlePong()
		case "message":
			payloads, _ := frame["payloads"].([]any)
			for _, payload := range payloads {
				if m, ok := payload.(map[string]any); ok {
					c.handler(m)
				}
			}
		default:
			logger.Debug("ignoring dealer frame", logger.String("type", t))
		}
	}
}

// heartbeat sends {"type":"ping"} every interval for as long as the
// connection is open, recording the send time for latency measurement.
func (c *Conn) heartbeat(ctx context.Context, ws *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		writeMu.Lock()
		err := ws.WriteJSON(map[string]string{"type": "ping"})
		writeMu.Unlock()
		if err != nil {
			logger.Warn("heartbeat write failed", logger.ErrorField(err))
			return
		}

		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
	}
}

// handlePong computes round-trip latency in milliseconds. The observed
// threshold used by the service is 1000ms; the units here are milliseconds
// throughout.
func (c *Conn) handlePong() {
	c.mu.Lock()
	last := c.lastPingAt
	if !last.IsZero() {
		c.latency = time.Since(last)
	}
	latency := c.latency
	c.mu.Unlock()

	if last.IsZero() {
		return
	}
	if latency > c.opts.PongWarnThreshold {
		logger.Warn("dealer latency above threshold",
			logger.Duration("latency", latency),
			logger.Duration("threshold", c.opts.PongWarnThreshold))
	} else {
		logger.Debug("dealer pong", logger.Duration("latency", latency))
	}
}

// registerDevice PUTs the device document; the response body is the
// initial cluster snapshot.
func (c *Conn) registerDevice(ctx context.Context, token, connectionID string) (map[string]any, error) {
	doc := map[string]any{
		"member_type": "CONNECT_STATE",
		"device": map[string]any{
			"device_info": map[string]any{
				"capabilities": map[string]any{
					"can_be_player":           false,
					"is_observable":           true,
					"is_controllable":         true,
					"supports_hifi":           map[string]any{},
					"hidden":                  !c.opts.VisibleMode,
					"needs_full_player_state": true,
				},
			},
		},
	}

	endpoint := fmt.Sprintf("https://%s/connect-state/v1/devices/hobs_%s", c.opts.SpClientHost, c.opts.DeviceID)
	body, err := c.spclientCall(ctx, http.MethodPut, endpoint, token, connectionID, doc)
	if err != nil {
		return nil, err
	}

	var initial map[string]any
	if err := json.Unmarshal(body, &initial); err != nil {
		logger.Warn("registration response was not a cluster", logger.ErrorField(err))
		return nil, nil
	}
	return initial, nil
}

// announceDevice POSTs the device-announcement document used in visible
// mode so the device shows up in Connect pickers.
func (c *Conn) announceDevice(ctx context.Context, token, connectionID string) error {
	doc := map[string]any{
		"device": map[string]any{
			"brand": "spotify",
			"capabilities": map[string]any{
				"change_volume":            true,
				"enable_play_token":        true,
				"supports_file_media_type": true,
				"play_token_lost_behavior": "pause",
				"disable_connect":          false,
				"audio_podcasts":           true,
				"video_playback":           true,
				"manifest_formats": []string{
					"file_ids_mp3",
					"file_urls_mp3",
					"manifest_ids_video",
					"file_urls_external",
					"file_ids_mp4",
					"file_ids_mp4_dual",
				},
			},
			"device_id":           c.opts.DeviceID,
			"device_type":         "computer",
			"metadata":            map[string]any{},
			"model":               "web_player",
			"name":                c.opts.DeviceName,
			"platform_identifier": "web_player windows 10;desktop",
			"is_group":            false,
		},
		"connection_id": connectionID,
		"client_version": "harmony:4.42.0",
		"volume":         65535,
	}

	endpoint := fmt.Sprintf("https://%s/track-playback/v1/devices", c.opts.SpClientHost)
	_, err := c.spclientCall(ctx, http.MethodPost, endpoint, token, connectionID, doc)
	return err
}

func (c *Conn) spclientCall(ctx context.Context, method, endpoint, token, connectionID string, doc any) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Spotify-Connection-Id", connectionID)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrHandshake, method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %v", ErrHandshake, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrHandshake, method, endpoint, resp.StatusCode)
	}
	return body, nil
}

func headerValue(frame map[string]any, name string) string {
	headers, _ := frame["headers"].(map[string]any)
	value, _ := headers[name].(string)
	return value
}
