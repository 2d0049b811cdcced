package relay

import (
	"context"

	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/transport"
)

// ServeObserver attaches conn as the monitoring frontend, replacing any
// previous one, and applies its frames until it disconnects.
func (e *Engine) ServeObserver(ctx context.Context, conn transport.Stream) {
	e.registry.SetObserver(conn)
	e.sessionEvent("observer_connected")
	e.logger.Info("observer connected")
	defer func() {
		if e.registry.ClearObserver(conn) {
			e.logger.Info("observer disconnected")
		}
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-conn.Frames():
			if !ok {
				return
			}
			e.onObserverFrame(raw)
		}
	}
}

func (e *Engine) onObserverFrame(raw []byte) {
	msg, err := protocol.ParseObserverMessage(raw)
	if err != nil {
		e.countDrop(legObserver, "malformed")
		e.logger.Warn("dropping observer frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.ObserverSessionUpdate:
		e.countMessage(legObserver, "inbound", protocol.TypeSessionUpdate)
		e.registry.SetDefaultConfig(m.Session)
		for _, s := range e.registry.Sessions() {
			s := s
			cfg := m.Session
			s.Post(func() { e.applySessionUpdate(s, cfg) })
		}
	case protocol.ObserverPassthrough:
		typ := m.Type
		if typ == "" {
			typ = "untyped"
		}
		e.countMessage(legObserver, "inbound", typ)
		for _, s := range e.registry.Sessions() {
			s := s
			frame := m.Raw
			s.Post(func() { e.sendModel(s, frame, typ) })
		}
	}
}

// applySessionUpdate saves cfg as the call's override and pushes the merged
// configuration to an open model.
func (e *Engine) applySessionUpdate(s *session.Session, cfg protocol.SessionConfig) {
	if s.Ending {
		return
	}
	saved := cfg
	s.SavedConfig = &saved
	e.sendModel(s, protocol.NewSessionUpdate(e.sessionConfig(s)), protocol.TypeSessionUpdate)
}
