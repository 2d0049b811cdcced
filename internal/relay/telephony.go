package relay

import (
	"context"
	"errors"

	"github.com/ent0n29/callrelay/internal/policy"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/transport"
)

// ServeTelephony relays one telephony media stream until the connection
// closes. The call bound to the connection is torn down on stop or close.
func (e *Engine) ServeTelephony(ctx context.Context, conn transport.Stream) {
	var current *session.Session
	defer func() {
		if current != nil {
			s := current
			s.Post(func() {
				if s.Telephony == conn {
					e.teardown(ctx, s, "telephony_closed")
				}
			})
		}
		_ = conn.Close()
	}()

	for {
		var (
			raw []byte
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case raw, ok = <-conn.Frames():
			if !ok {
				return
			}
		}

		msg, err := protocol.ParseTelephonyEvent(raw)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, protocol.ErrUnsupportedType) {
				reason = "unsupported"
			}
			e.countDrop(legTelephony, reason)
			e.logger.Warn("dropping telephony frame", "reason", reason, "error", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.TelephonyConnected:
			e.countMessage(legTelephony, "inbound", string(protocol.TelephonyEventConnected))
		case protocol.TelephonyStart:
			e.countMessage(legTelephony, "inbound", string(protocol.TelephonyEventStart))
			s, created := e.registry.GetOrCreate(m.StreamSID)
			if created {
				e.updateActive()
			}
			current = s
			s.Post(func() { e.onStart(ctx, s, conn, m) })
		case protocol.TelephonyMedia:
			e.countMessage(legTelephony, "inbound", string(protocol.TelephonyEventMedia))
			if current == nil {
				e.countDrop(legTelephony, "no_session")
				continue
			}
			s := current
			s.Post(func() { e.onMedia(s, m) })
		case protocol.TelephonyMark:
			e.countMessage(legTelephony, "inbound", string(protocol.TelephonyEventMark))
		case protocol.TelephonyStop:
			e.countMessage(legTelephony, "inbound", string(protocol.TelephonyEventStop))
			if current == nil {
				continue
			}
			s := current
			s.Post(func() {
				if s.Telephony == conn {
					e.teardown(ctx, s, "stop")
				}
			})
			current = nil
			return
		default:
			e.countDrop(legTelephony, "unsupported")
		}
	}
}

func (e *Engine) onStart(ctx context.Context, s *session.Session, conn transport.Conn, m protocol.TelephonyStart) {
	if s.Model != nil {
		_ = s.Model.Close()
		s.Model = nil
	}
	if s.Telephony != nil && s.Telephony != conn {
		_ = s.Telephony.Close()
	}
	s.ResetCall()
	s.Telephony = conn
	s.CallSID = m.CallSID
	s.CalledNumber = m.CalledNumber
	s.CallerNumber = m.CallerNumber
	s.PhoneNumberSID = m.PhoneNumberSID

	e.log(s).Info("call started",
		"call_sid", m.CallSID,
		"called_number", policy.MaskNumber(m.CalledNumber),
		"caller_number", policy.MaskNumber(m.CallerNumber),
	)
	e.sessionEvent("call_started")

	pctx, cancel := e.persistContext(ctx)
	id, err := e.store.StartConversation(pctx, s.StreamSID, s.CalledNumber, s.PhoneNumberSID, s.CallerNumber)
	cancel()
	if err != nil {
		e.persistFailed(s, "start_conversation", err)
	} else {
		s.ConversationID = id
	}

	e.connectModel(ctx, s)
}

func (e *Engine) onMedia(s *session.Session, m protocol.TelephonyMedia) {
	if s.Ending {
		return
	}
	if m.Timestamp > s.LatestMediaTS {
		s.LatestMediaTS = m.Timestamp
	}
	chunk := session.AudioChunk{Payload: m.Payload, Timestamp: m.Timestamp}

	if !s.ResponseCreated {
		s.AudioBuffer = append(s.AudioBuffer, chunk)
		return
	}
	// Keep arrival order behind audio that is still being re-injected.
	if len(s.DrainQueue) > 0 {
		s.DrainQueue = append(s.DrainQueue, chunk)
		return
	}
	if !s.ModelOpen() {
		e.countDrop(legTelephony, "model_closed")
		return
	}
	e.sendModel(s, protocol.NewInputAudioAppend(m.Payload), protocol.TypeInputAudioBufferAppend)
}
