package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"limit_go/internal/domain"
	"limit_go/internal/engine"
	"limit_go/internal/event"
	"limit_go/internal/infra"
	"limit_go/pkg/quant"
)

// Message kinds sent by the pool host.
const (
	KindInit  = "init"
	KindPrice = "price"
)

// Message is one pool lifecycle notification from the host.
type Message struct {
	Kind        string `json:"kind"`
	AssetA      string `json:"asset_a"`
	AssetB      string `json:"asset_b"`
	BucketWidth int64  `json:"bucket_width"`
	Tick        int64  `json:"tick"`
}

// Key returns the pool key the message refers to.
func (m Message) Key() domain.PoolKey {
	return domain.PoolKey{
		AssetA:      domain.Asset(m.AssetA),
		AssetB:      domain.Asset(m.AssetB),
		BucketWidth: quant.Tick(m.BucketWidth),
	}
}

// subscribeRequest is sent after connecting when pools are configured.
type subscribeRequest struct {
	Op    string           `json:"op"`
	Pools []domain.PoolKey `json:"pools"`
}

// Submitter accepts sequencer commands.
type Submitter interface {
	Submit(ctx context.Context, ev event.Event) engine.Result
}

// ConnTracker counts live connections.
type ConnTracker interface {
	IncrementConnections()
	DecrementConnections()
}

// Worker relays host pool notifications to the sequencer as the authority.
// It reconnects with exponential backoff and pings to keep the link alive.
type Worker struct {
	url       string
	authority domain.Account
	pools     map[domain.PoolID]domain.PoolKey
	submitter Submitter
	conns     ConnTracker
	backoff   infra.Backoff
	logger    *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithPools restricts the worker to the given pools and subscribes to them.
func WithPools(keys ...domain.PoolKey) Option {
	return func(w *Worker) {
		for _, k := range keys {
			w.pools[k.ID()] = k
		}
	}
}

// WithConnTracker reports connection changes, usually to infra.Metrics.
func WithConnTracker(t ConnTracker) Option {
	return func(w *Worker) { w.conns = t }
}

// WithBackoff overrides the reconnect schedule.
func WithBackoff(b infra.Backoff) Option {
	return func(w *Worker) { w.backoff = b }
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a feed worker for url.
func NewWorker(url string, authority domain.Account, submitter Submitter, opts ...Option) *Worker {
	w := &Worker{
		url:          url,
		authority:    authority,
		pools:        make(map[domain.PoolID]domain.PoolKey),
		submitter:    submitter,
		backoff:      infra.DefaultBackoff,
		logger:       slog.Default(),
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start initiates the connection loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("Feed connection failed", slog.String("url", w.url), slog.Any("error", err), slog.Int("retry", retry))
			delay := w.backoff.Delay(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0 // Reset on successful connect
		w.process(ctx)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, make(http.Header))
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	if w.conns != nil {
		w.conns.IncrementConnections()
	}

	if err := w.subscribe(); err != nil {
		w.close()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	if w.PingInterval > 0 {
		go w.pingLoop(ctx)
	}

	w.logger.Info("Feed connected", slog.String("url", w.url), slog.Int("pools", len(w.pools)))
	return nil
}

func (w *Worker) subscribe() error {
	if len(w.pools) == 0 {
		return nil
	}
	req := subscribeRequest{Op: "subscribe"}
	for _, k := range w.pools {
		req.Pools = append(req.Pools, k)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return w.Write(websocket.TextMessage, data)
}

func (w *Worker) process(ctx context.Context) {
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("Feed read error", slog.Any("error", err))
			}
			w.close()
			return
		}

		w.HandleMessage(ctx, msg)
	}
}

// HandleMessage decodes one host message and submits the matching command.
func (w *Worker) HandleMessage(ctx context.Context, msg []byte) {
	var m Message
	if err := json.Unmarshal(msg, &m); err != nil {
		w.logger.Warn("Malformed feed message", slog.Any("error", err))
		return
	}
	key := m.Key()
	if len(w.pools) > 0 {
		if _, ok := w.pools[key.ID()]; !ok {
			w.logger.Debug("Feed message for unwatched pool", slog.String("pool", key.ID().Short()))
			return
		}
	}

	switch m.Kind {
	case KindInit:
		ev := &event.PoolInitializedEvent{Caller: w.authority, Key: key, Tick: quant.Tick(m.Tick)}
		w.report(m.Kind, key, w.submitter.Submit(ctx, ev))

	case KindPrice:
		ev := event.AcquirePriceUpdateEvent()
		ev.Caller, ev.Key, ev.Tick = w.authority, key, quant.Tick(m.Tick)
		res := w.submitter.Submit(ctx, ev)
		// A command abandoned in the inbox may still be processed.
		if !abandoned(res.Err) {
			event.ReleasePriceUpdateEvent(ev)
		}
		w.report(m.Kind, key, res)

	default:
		w.logger.Warn("Unknown feed message kind", slog.String("kind", m.Kind))
	}
}

func abandoned(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, engine.ErrSequencerStopped)
}

func (w *Worker) report(kind string, key domain.PoolKey, res engine.Result) {
	if res.Err != nil {
		w.logger.Warn("Feed command rejected",
			slog.String("kind", kind),
			slog.String("pool", key.ID().Short()),
			slog.Any("error", res.Err),
		)
		return
	}
	if n := len(res.Report.Fills); n > 0 {
		w.logger.Debug("Feed update filled buckets", slog.String("pool", key.ID().Short()), slog.Int("fills", n))
	}
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Write(websocket.PingMessage, nil); err != nil {
				w.logger.Warn("Feed ping error", slog.Any("error", err))
				w.close()
				return
			}
		}
	}
}

// Write sends a frame on the current connection.
func (w *Worker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("ws not connected")
	}

	return c.WriteMessage(msgType, data)
}

func (w *Worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		if w.conns != nil {
			w.conns.DecrementConnections()
		}
	}
}
