package gateway

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultResponseTimeout = 10 * time.Second
	defaultQueueSize       = 64

	readBufferSize = 256

	// maxPendingBytes bounds a reply line; longer runs without a newline
	// are discarded as noise.
	maxPendingBytes = 1024
)

// Exchange outcomes reported to an Observer.
const (
	OutcomeValue      = "value"
	OutcomeNoData     = "no_data"
	OutcomeAck        = "ack"
	OutcomeNoResponse = "no_response"
	OutcomeError      = "error"
)

// Operations reported to an Observer.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives one call per finished exchange.
type Observer interface {
	ObserveExchange(op, outcome string, elapsed time.Duration)
}

// Config holds gateway settings. Zero values take defaults.
type Config struct {
	// ResponseTimeout bounds the wait for a reply line. Default: 10s.
	ResponseTimeout time.Duration

	// QueueSize is the number of exchanges that can wait for the worker.
	// Default: 64.
	QueueSize int

	Clock    clockwork.Clock
	Logger   Logger
	Observer Observer
}

// Stats holds operational statistics.
type Stats struct {
	Exchanges      uint64
	NoData         uint64 // reads answered with the timeout line or nothing
	LinesDiscarded uint64 // malformed reply lines skipped
	Errors         uint64
	Reopens        uint64
	QueueDepth     int
	PortOpen       bool
	LastActivity   time.Time
}

type exchange struct {
	ctx    context.Context
	op     string
	addr   Address
	frame  []byte
	result chan result
}

type result struct {
	value   float64
	ack     string
	outcome string
	err     error
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func (c *closeOnce) Close()                { c.once.Do(func() { close(c.ch) }) }
func (c *closeOnce) Done() <-chan struct{} { return c.ch }

// Gateway serialises exchanges with the hardware master.
//
// All methods are safe for concurrent use.
type Gateway struct {
	cfg    Config
	open   Opener
	clock  clockwork.Clock
	logger Logger

	requests chan *exchange
	done     *closeOnce
	wg       sync.WaitGroup

	// Owned by the worker goroutine.
	port    Port
	pending []byte
	buf     []byte

	portOpen     atomic.Bool
	opened       atomic.Bool // set after the first successful open
	exchanges    atomic.Uint64
	noData       atomic.Uint64
	discarded    atomic.Uint64
	errorsTotal  atomic.Uint64
	reopens      atomic.Uint64
	lastActivity atomic.Int64

	lastErrMu sync.Mutex
	lastErr   error
}

// New creates a gateway and starts its worker.
//
// The worker drains one FIFO queue, so exchanges never interleave on the
// wire and callers are served in submission order. The port is not opened
// here:
//  1. The first exchange calls open
//  2. Any transport error closes the port and fails that exchange only
//  3. The next exchange opens the port again
//
// Parameters:
//   - cfg: timeouts, queue size and optional clock, logger and observer
//   - open: opens the byte stream to the hardware master (see SerialOpener)
//
// Returns:
//   - *Gateway: running gateway; call Close to stop the worker and port
func New(cfg Config, open Opener) *Gateway {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	g := &Gateway{
		cfg:      cfg,
		open:     open,
		clock:    cfg.Clock,
		logger:   logger,
		requests: make(chan *exchange, cfg.QueueSize),
		done:     &closeOnce{ch: make(chan struct{})},
		buf:      make([]byte, readBufferSize),
	}

	g.wg.Add(1)
	go g.worker()
	return g
}

// ReadSensor requests the value at addr. It returns NaN and a nil error
// when the device reports a timeout or stays silent for ResponseTimeout.
func (g *Gateway) ReadSensor(ctx context.Context, addr Address) (float64, error) {
	res := g.submit(ctx, &exchange{op: OpRead, addr: addr, frame: readFrame(addr)})
	if res.err != nil {
		return math.NaN(), res.err
	}
	return res.value, nil
}

// WriteActor drives addr to value and returns the first reply line, or ""
// if none arrives within ResponseTimeout. The reply is not interpreted.
func (g *Gateway) WriteActor(ctx context.Context, addr Address, value int) (string, error) {
	res := g.submit(ctx, &exchange{op: OpWrite, addr: addr, frame: writeFrame(addr, value)})
	return res.ack, res.err
}

func (g *Gateway) submit(ctx context.Context, ex *exchange) result {
	ex.ctx = ctx
	ex.result = make(chan result, 1)

	select {
	case <-g.done.Done():
		return result{err: ErrClosed}
	default:
	}

	select {
	case g.requests <- ex:
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-g.done.Done():
		return result{err: ErrClosed}
	}

	select {
	case res := <-ex.result:
		return res
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-g.done.Done():
		return result{err: ErrClosed}
	}
}

func (g *Gateway) worker() {
	defer g.wg.Done()
	defer g.closePort()

	for {
		select {
		case <-g.done.Done():
			return
		case ex := <-g.requests:
			start := g.clock.Now()
			res := g.perform(ex)
			g.finish(ex, res, g.clock.Since(start))
		}
	}
}

func (g *Gateway) finish(ex *exchange, res result, elapsed time.Duration) {
	g.exchanges.Add(1)
	g.lastActivity.Store(g.clock.Now().Unix())

	switch {
	case res.err != nil:
		res.outcome = OutcomeError
		if ex.ctx.Err() == nil {
			g.errorsTotal.Add(1)
			g.logger.Warn("serial exchange failed", "op", ex.op, "address", ex.addr.String(), "error", res.err)
		}
	case res.outcome == OutcomeNoData:
		g.noData.Add(1)
		g.logger.Debug("no data from sensor", "address", ex.addr.String(), "elapsed", elapsed)
	}

	if g.cfg.Observer != nil {
		g.cfg.Observer.ObserveExchange(ex.op, res.outcome, elapsed)
	}
	ex.result <- res
}

// perform does one request/response on the port.
func (g *Gateway) perform(ex *exchange) result {
	if err := ex.ctx.Err(); err != nil {
		return result{err: err}
	}

	port, err := g.ensurePort()
	if err != nil {
		return result{err: err}
	}

	// Bytes left over from an earlier, abandoned exchange belong to it.
	g.pending = g.pending[:0]
	if err := port.ResetInputBuffer(); err != nil {
		return result{err: g.fail("reset input", err)}
	}

	n, err := port.Write(ex.frame)
	if err == nil && n != len(ex.frame) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(ex.frame))
	}
	if err != nil {
		return result{err: g.fail("write", err)}
	}

	deadline := g.clock.Now().Add(g.cfg.ResponseTimeout)
	for {
		line, ok, err := g.nextLine(ex.ctx, port, deadline)
		if err != nil {
			return result{err: err}
		}
		if !ok {
			if ex.op == OpRead {
				return result{value: math.NaN(), outcome: OutcomeNoData}
			}
			return result{outcome: OutcomeNoResponse}
		}

		if ex.op == OpWrite {
			return result{ack: strings.TrimSpace(line), outcome: OutcomeAck}
		}

		switch kind, v := classifyLine(line); kind {
		case lineValue:
			return result{value: v, outcome: OutcomeValue}
		case lineTimeout:
			return result{value: v, outcome: OutcomeNoData}
		default:
			g.discarded.Add(1)
			g.logger.Debug("discarding reply line", "address", ex.addr.String(), "line", line)
		}
	}
}

// nextLine returns the next complete line, or ok=false once deadline passes.
func (g *Gateway) nextLine(ctx context.Context, port Port, deadline time.Time) (string, bool, error) {
	for {
		if i := bytes.IndexByte(g.pending, '\n'); i >= 0 {
			line := strings.TrimRight(string(g.pending[:i]), "\r")
			g.pending = append(g.pending[:0], g.pending[i+1:]...)
			return line, true, nil
		}

		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		select {
		case <-g.done.Done():
			return "", false, ErrClosed
		default:
		}
		if !g.clock.Now().Before(deadline) {
			return "", false, nil
		}

		n, err := port.Read(g.buf)
		if err != nil {
			return "", false, g.fail("read", err)
		}
		g.pending = append(g.pending, g.buf[:n]...)
		if len(g.pending) > maxPendingBytes && bytes.IndexByte(g.pending, '\n') < 0 {
			g.discarded.Add(1)
			g.pending = g.pending[:0]
		}
	}
}

func (g *Gateway) ensurePort() (Port, error) {
	if g.port != nil {
		return g.port, nil
	}
	p, err := g.open()
	if err != nil {
		g.setLastErr(err)
		return nil, fmt.Errorf("%w: %w", ErrPortUnavailable, err)
	}
	if g.opened.Swap(true) {
		g.reopens.Add(1)
		g.logger.Info("serial port reopened")
	} else {
		g.logger.Info("serial port opened")
	}
	g.port = p
	g.portOpen.Store(true)
	g.setLastErr(nil)
	return p, nil
}

// fail closes the port after a transport error so the next exchange
// reopens it.
func (g *Gateway) fail(stage string, err error) error {
	g.setLastErr(err)
	g.closePort()
	return fmt.Errorf("%w: %s: %w", ErrTransport, stage, err)
}

func (g *Gateway) closePort() {
	if g.port == nil {
		return
	}
	if err := g.port.Close(); err != nil {
		g.logger.Debug("closing serial port", "error", err)
	}
	g.port = nil
	g.pending = g.pending[:0]
	g.portOpen.Store(false)
}

func (g *Gateway) setLastErr(err error) {
	g.lastErrMu.Lock()
	g.lastErr = err
	g.lastErrMu.Unlock()
}

// Close stops the worker and closes the port. Queued exchanges fail with
// ErrClosed. Safe to call more than once.
func (g *Gateway) Close() error {
	g.done.Close()
	g.wg.Wait()
	return nil
}

// HealthCheck reports ErrPortUnavailable while the last attempt to use the
// port failed and it has not been reopened since.
func (g *Gateway) HealthCheck(context.Context) error {
	select {
	case <-g.done.Done():
		return ErrClosed
	default:
	}
	if g.portOpen.Load() {
		return nil
	}
	g.lastErrMu.Lock()
	err := g.lastErr
	g.lastErrMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPortUnavailable, err)
	}
	return nil
}

// Stats returns current operational statistics.
func (g *Gateway) Stats() Stats {
	var last time.Time
	if ts := g.lastActivity.Load(); ts > 0 {
		last = time.Unix(ts, 0)
	}
	return Stats{
		Exchanges:      g.exchanges.Load(),
		NoData:         g.noData.Load(),
		LinesDiscarded: g.discarded.Load(),
		Errors:         g.errorsTotal.Load(),
		Reopens:        g.reopens.Load(),
		QueueDepth:     len(g.requests),
		PortOpen:       g.portOpen.Load(),
		LastActivity:   last,
	}
}
