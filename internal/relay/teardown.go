package relay

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/session"
)

// teardown ends a call once: timers stop, the conversation is flushed, the
// observer is told, both legs close and the session leaves the registry.
// Must run on the session loop.
func (e *Engine) teardown(ctx context.Context, s *session.Session, reason string) {
	if s.Ending {
		return
	}
	s.Ending = true
	s.CancelAll()

	messages := s.Items.MessageCount()
	if s.ConversationID != "" {
		e.persist(ctx, s, messages)
	}

	duration := time.Since(s.StartedAt)
	e.broadcast(protocol.NewCallEndedEvent(s.StreamSID, messages, duration.Milliseconds()), protocol.TypeCallEnded)

	if s.Model != nil {
		_ = s.Model.Close()
		s.Model = nil
	}
	if s.Telephony != nil {
		_ = s.Telephony.Close()
	}

	e.registry.Remove(s)
	s.Stop()

	e.updateActive()
	e.sessionEvent("call_ended")
	e.log(s).Info("call ended",
		"reason", reason,
		"conversation_id", s.ConversationID,
		"messages", messages,
		"items", s.Items.Len(),
		"duration_ms", duration.Milliseconds(),
	)
}

func (e *Engine) persist(ctx context.Context, s *session.Session, messages int) {
	started := time.Now()
	pctx, cancel := e.persistContext(ctx)
	defer cancel()

	if err := e.store.SaveItems(pctx, s.ConversationID, s.Items.Snapshot()); err != nil {
		e.persistFailed(s, "save_items", err)
	}
	if err := e.store.EndConversation(pctx, s.StreamSID, messages); err != nil {
		e.persistFailed(s, "end_conversation", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveStage(observability.StagePersistItems, time.Since(started))
	}
}

// Shutdown tears down every active call and stops the registry.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, s := range e.registry.Sessions() {
		s := s
		if err := s.Call(ctx, func() { e.teardown(ctx, s, "shutdown") }); err != nil && !errors.Is(err, session.ErrStopped) {
			e.log(s).Warn("shutdown teardown incomplete", "error", err)
		}
	}
	e.registry.Shutdown()
}
