package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/callrelay/internal/conversation"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/transport"
)

var ErrStopped = errors.New("session stopped")

// AudioChunk is one caller media frame held back from the model.
type AudioChunk struct {
	Payload   string
	Timestamp int64
}

// Session is the state of one call. Exported fields belong to the session's
// event loop: read and write them only from functions run via Post or Call.
type Session struct {
	StreamSID string
	CallSID   string

	Telephony transport.Conn
	Model     transport.Stream

	ResponseCreated bool
	AudioBuffer     []AudioChunk
	// DrainQueue holds buffered audio still being re-injected at the pacing interval.
	DrainQueue []AudioChunk

	LastAssistantItemID  string
	ResponseStartMediaTS *int64
	LatestMediaTS        int64
	ResponseRetries      int

	Items       *conversation.ItemList
	SavedConfig *protocol.SessionConfig

	CalledNumber   string
	CallerNumber   string
	PhoneNumberSID string
	ConversationID string
	StartedAt      time.Time

	// Epoch increments on every call start. Async results captured under an
	// older epoch are discarded.
	Epoch uint64
	// Ending is set once teardown has begun.
	Ending bool

	SessionUpdatedAt  time.Time
	ResponseCreatedAt time.Time

	inbox    chan func()
	done     chan struct{}
	stopOnce sync.Once

	timers   map[string]sessionTimer
	timerGen uint64
}

type sessionTimer struct {
	t   *time.Timer
	gen uint64
}

func newSession(streamSID string) *Session {
	s := &Session{
		StreamSID: streamSID,
		Items:     conversation.NewItemList(),
		StartedAt: time.Now().UTC(),
		inbox:     make(chan func(), 1024),
		done:      make(chan struct{}),
		timers:    make(map[string]sessionTimer),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.inbox:
			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}

// Post queues fn on the session loop. It reports false once the session has stopped.
func (s *Session) Post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Call runs fn on the session loop and waits for it to finish.
func (s *Session) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !s.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the loop. Queued work is discarded and timers that fire later are no-ops.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Schedule runs fn on the loop after d, replacing any pending timer with the
// same name. Must be called from the loop.
func (s *Session) Schedule(name string, d time.Duration, fn func()) {
	s.Cancel(name)
	s.timerGen++
	gen := s.timerGen
	t := time.AfterFunc(d, func() {
		s.Post(func() {
			cur, ok := s.timers[name]
			if !ok || cur.gen != gen {
				return
			}
			delete(s.timers, name)
			fn()
		})
	})
	s.timers[name] = sessionTimer{t: t, gen: gen}
}

// Cancel stops the named timer. Must be called from the loop.
func (s *Session) Cancel(name string) {
	if cur, ok := s.timers[name]; ok {
		cur.t.Stop()
		delete(s.timers, name)
	}
}

// Pending reports whether the named timer is armed. Must be called from the loop.
func (s *Session) Pending(name string) bool {
	_, ok := s.timers[name]
	return ok
}

// CancelAll stops every timer. Must be called from the loop.
func (s *Session) CancelAll() {
	for name := range s.timers {
		s.Cancel(name)
	}
}

// ResetCall restores negotiation, buffering and timing state for a new call start.
func (s *Session) ResetCall() {
	s.CancelAll()
	s.Epoch++
	s.ConversationID = ""
	s.ResponseCreated = false
	s.AudioBuffer = nil
	s.DrainQueue = nil
	s.LastAssistantItemID = ""
	s.ResponseStartMediaTS = nil
	s.LatestMediaTS = 0
	s.ResponseRetries = 0
	s.Ending = false
	s.SessionUpdatedAt = time.Time{}
	s.ResponseCreatedAt = time.Time{}
	s.StartedAt = time.Now().UTC()
}

// ModelOpen reports whether the model leg is connected.
func (s *Session) ModelOpen() bool {
	return s.Model != nil && s.Model.Open()
}

// Info is a point-in-time view of a session for status endpoints.
type Info struct {
	StreamSID       string    `json:"stream_sid"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	ResponseCreated bool      `json:"response_created"`
	ModelConnected  bool      `json:"model_connected"`
	BufferedChunks  int       `json:"buffered_chunks"`
	ItemCount       int       `json:"item_count"`
}

func (s *Session) Info(ctx context.Context) (Info, error) {
	var info Info
	err := s.Call(ctx, func() {
		info = Info{
			StreamSID:       s.StreamSID,
			ConversationID:  s.ConversationID,
			StartedAt:       s.StartedAt,
			ResponseCreated: s.ResponseCreated,
			ModelConnected:  s.ModelOpen(),
			BufferedChunks:  len(s.AudioBuffer) + len(s.DrainQueue),
			ItemCount:       s.Items.Len(),
		}
	})
	return info, err
}
