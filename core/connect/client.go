package connect

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"SpotWire/core/auth"
	"SpotWire/core/cluster"
	"SpotWire/core/dealer"
	"SpotWire/core/playback"
	"SpotWire/logger"
)

// ReplaceStateHandler receives every replace_state payload.
type ReplaceStateHandler func(content map[string]any)

// Options configures a Client.
type Options struct {
	SpotifyHostname string
	DealerHost      string
	SpClientHost    string
	DeviceID        string // generated when empty
	DeviceName      string
	VisibleMode     bool

	HeartbeatInterval time.Duration
	PongWarnThreshold time.Duration

	Cookie          func() string
	CredentialStore auth.Store
}

// Client is one logical dealer connection: token provider, streaming
// connection, codec, reconciler and playback simulator wired together.
// Create one Client per account session.
type Client struct {
	deviceID   string
	tokens     *auth.Provider
	reconciler *cluster.Reconciler
	simulator  *playback.Simulator
	conn       *dealer.Conn

	mu              sync.Mutex
	replaceHandlers []ReplaceStateHandler
}

// NewClient wires up a client. The device id is injected configuration;
// when empty a process-local one is generated.
func NewClient(opts Options) *Client {
	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID = "spotwire_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	var authOpts []auth.Option
	if opts.CredentialStore != nil {
		authOpts = append(authOpts, auth.WithStore(opts.CredentialStore))
	}
	tokens := auth.NewProvider(opts.SpotifyHostname, opts.Cookie, authOpts...)

	c := &Client{
		deviceID:   deviceID,
		tokens:     tokens,
		reconciler: cluster.NewReconciler(),
	}

	reporter := playback.NewHTTPReporter(opts.SpClientHost, deviceID, tokens)
	c.simulator = playback.NewSimulator(c.reconciler, reporter)

	c.conn = dealer.NewConn(dealer.Options{
		DealerHost:        opts.DealerHost,
		SpClientHost:      opts.SpClientHost,
		DeviceID:          deviceID,
		DeviceName:        opts.DeviceName,
		VisibleMode:       opts.VisibleMode,
		HeartbeatInterval: opts.HeartbeatInterval,
		PongWarnThreshold: opts.PongWarnThreshold,
	}, tokens, c.handlePayload)

	return c
}

// DeviceID returns the device id this client registers under.
func (c *Client) DeviceID() string { return c.deviceID }

// Tokens exposes the token provider for collaborators (control-surface
// callers, cookie-rotation watchers).
func (c *Client) Tokens() *auth.Provider { return c.tokens }

// Reconciler exposes watch registration and the current snapshot.
func (c *Client) Reconciler() *cluster.Reconciler { return c.reconciler }

// Simulator exposes the playback telemetry state machine.
func (c *Client) Simulator() *playback.Simulator { return c.simulator }

// Stats returns dealer connection stats for introspection.
func (c *Client) Stats() dealer.Stats { return c.conn.Stats() }

// OnReplaceState registers a handler for replace_state events. Handlers
// are dispatched fire-and-forget and may be registered while the client
// is running.
func (c *Client) OnReplaceState(fn ReplaceStateHandler) {
	c.mu.Lock()
	c.replaceHandlers = append(c.replaceHandlers, fn)
	c.mu.Unlock()
}

// Run connects and streams until the connection drops or ctx is
// cancelled. There is no automatic reconnect; a returned nil means the
// stream ended normally.
func (c *Client) Run(ctx context.Context) error {
	return c.conn.Run(ctx)
}

// handlePayload classifies one dealer payload and routes it. Invoked from
// the frame pump in arrival order.
func (c *Client) handlePayload(payload map[string]any) {
	kind, reason, body := cluster.Classify(payload)
	switch kind {
	case cluster.KindClusterUpdate:
		snapshot := cluster.DecodeCluster(reason, body)
		if snapshot == nil {
			logger.Debug("cluster update with empty body", logger.String("reason", reason))
			return
		}
		c.reconciler.Apply(snapshot)

	case cluster.KindReplaceState:
		c.mu.Lock()
		handlers := c.replaceHandlers
		c.mu.Unlock()
		for _, fn := range handlers {
			fn := fn
			go fn(body)
		}
		if err := c.simulator.HandleReplaceState(context.Background(), body); err != nil {
			if errors.Is(err, playback.ErrNoCluster) || errors.Is(err, playback.ErrNoPlayerState) {
				logger.Warn("replace_state before a playable cluster", logger.ErrorField(err))
			} else {
				logger.Error("replace_state handling failed", logger.ErrorField(err))
			}
		}

	default:
		logger.Debug("ignoring dealer payload")
	}
}
