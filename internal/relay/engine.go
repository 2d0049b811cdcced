package relay

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ent0n29/callrelay/internal/conversation"
	"github.com/ent0n29/callrelay/internal/functions"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/transport"
)

// Dialer opens the model leg of a call.
type Dialer interface {
	Dial(ctx context.Context, model string) (transport.Stream, error)
}

type Options struct {
	Model               string
	SettleDelay         time.Duration
	ResponseWatchdog    time.Duration
	MaxResponseRetries  int // 0 retries forever
	AudioPacing         time.Duration
	FailedResponseDelay time.Duration
	PersistTimeout      time.Duration
	DialTimeout         time.Duration
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "gpt-4o-realtime-preview-2024-12-17"
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 100 * time.Millisecond
	}
	if o.ResponseWatchdog <= 0 {
		o.ResponseWatchdog = 5 * time.Second
	}
	if o.MaxResponseRetries < 0 {
		o.MaxResponseRetries = 0
	}
	if o.AudioPacing <= 0 {
		o.AudioPacing = 20 * time.Millisecond
	}
	if o.FailedResponseDelay <= 0 {
		o.FailedResponseDelay = 500 * time.Millisecond
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
	return o
}

// Session timer names.
const (
	timerSettle   = "settle"
	timerWatchdog = "watchdog"
	timerDrain    = "drain"
	timerRetry    = "failed_response_retry"
)

// Connection legs, used as metric labels.
const (
	legTelephony = "telephony"
	legModel     = "model"
	legObserver  = "observer"
)

// Engine relays events between the telephony, model and observer legs of
// every active call.
type Engine struct {
	opts      Options
	registry  *session.Registry
	dialer    Dialer
	store     conversation.Store
	functions *functions.Registry
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func New(opts Options, registry *session.Registry, dialer Dialer, store conversation.Store, fns *functions.Registry, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if fns == nil {
		fns = functions.NewRegistry(0)
	}
	if store == nil {
		store = conversation.NewInMemoryStore()
	}
	return &Engine{
		opts:      opts.withDefaults(),
		registry:  registry,
		dialer:    dialer,
		store:     store,
		functions: fns,
		metrics:   metrics,
		logger:    logger,
	}
}

func (e *Engine) Registry() *session.Registry { return e.registry }

// Tools returns the function schemas advertised to the model.
func (e *Engine) Tools() []protocol.Tool { return e.functions.Schemas() }

func (e *Engine) log(s *session.Session) *slog.Logger {
	return e.logger.With("stream_sid", s.StreamSID)
}

func (e *Engine) countMessage(leg, direction, typ string) {
	if e.metrics == nil {
		return
	}
	e.metrics.WSMessages.WithLabelValues(leg, direction, typ).Inc()
}

func (e *Engine) countDrop(leg, reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.DroppedFrames.WithLabelValues(leg, reason).Inc()
}

func (e *Engine) sessionEvent(event string) {
	if e.metrics == nil {
		return
	}
	e.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func (e *Engine) updateActive() {
	if e.metrics == nil {
		return
	}
	e.metrics.ActiveSessions.Set(float64(e.registry.Count()))
}

func (e *Engine) sendModel(s *session.Session, v any, typ string) {
	if !s.ModelOpen() {
		return
	}
	if err := transport.Send(s.Model, v); err != nil {
		e.log(s).Warn("model send failed", "type", typ, "error", err)
		return
	}
	e.countMessage(legModel, "outbound", typ)
}

func (e *Engine) sendTelephony(s *session.Session, v any, typ string) {
	if err := transport.Send(s.Telephony, v); err != nil {
		e.log(s).Warn("telephony send failed", "type", typ, "error", err)
		return
	}
	if s.Telephony != nil {
		e.countMessage(legTelephony, "outbound", typ)
	}
}

func (e *Engine) broadcast(v any, typ string) {
	if e.registry.Observer() == nil {
		return
	}
	if err := e.registry.Broadcast(v); err != nil {
		e.logger.Warn("observer send failed", "type", typ, "error", err)
		return
	}
	e.countMessage(legObserver, "outbound", typ)
}

// sessionConfig layers the built-in defaults, the process-wide override and
// the call's saved override, then advertises the registered functions.
func (e *Engine) sessionConfig(s *session.Session) protocol.SessionConfig {
	override := e.registry.DefaultConfig()
	if s.SavedConfig != nil {
		tools := s.SavedConfig.Tools
		if len(tools) == 0 {
			tools = override.Tools
		}
		override = protocol.MergeSessionConfig(override, *s.SavedConfig, tools)
	}
	return protocol.MergeSessionConfig(protocol.DefaultSessionConfig(), override, e.functions.Schemas())
}

func (e *Engine) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.PersistTimeout)
}

func (e *Engine) persistFailed(s *session.Session, op string, err error) {
	e.log(s).Error("conversation store failed", "op", op, "error", err)
	if e.metrics != nil {
		e.metrics.PersistenceErrors.WithLabelValues(op).Inc()
	}
}
