package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ent0n29/callrelay/internal/conversation"
	"github.com/ent0n29/callrelay/internal/functions"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/policy"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/reliability"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/transport"
)

// connectModel dials the model leg off the loop and installs the connection
// when it is still wanted.
func (e *Engine) connectModel(ctx context.Context, s *session.Session) {
	if e.dialer == nil {
		e.log(s).Error("no model dialer configured")
		return
	}
	cfg := e.sessionConfig(s)
	model := cfg.Model
	if model == "" {
		model = e.opts.Model
	}
	epoch := s.Epoch
	started := time.Now()

	go func() {
		dctx, cancel := context.WithTimeout(ctx, e.opts.DialTimeout)
		defer cancel()
		stream, err := e.dialer.Dial(dctx, model)
		applied := s.Post(func() {
			if err != nil {
				e.log(s).Error("model connection failed", "model", model, "error", err)
				e.sessionEvent("model_connect_failed")
				return
			}
			if s.Epoch != epoch || s.Ending || s.Model != nil {
				_ = stream.Close()
				return
			}
			if e.metrics != nil {
				e.metrics.ObserveStage(observability.StageModelConnect, time.Since(started))
			}
			s.Model = stream
			e.sessionEvent("model_connected")
			go e.pumpModel(s, stream)
			e.sendModel(s, protocol.NewSessionUpdate(e.sessionConfig(s)), protocol.TypeSessionUpdate)
		})
		if !applied && err == nil {
			_ = stream.Close()
		}
	}()
}

func (e *Engine) pumpModel(s *session.Session, stream transport.Stream) {
	for raw := range stream.Frames() {
		frame := raw
		if !s.Post(func() { e.onModelFrame(s, stream, frame) }) {
			_ = stream.Close()
			return
		}
	}
	s.Post(func() { e.onModelClosed(s, stream) })
}

func (e *Engine) onModelClosed(s *session.Session, stream transport.Stream) {
	if s.Model != stream {
		return
	}
	s.Model = nil
	s.Cancel(timerWatchdog)
	s.Cancel(timerSettle)
	s.Cancel(timerRetry)
	if !s.Ending {
		e.log(s).Warn("model connection closed")
		e.sessionEvent("model_closed")
	}
}

func (e *Engine) onModelFrame(s *session.Session, stream transport.Stream, raw []byte) {
	if s.Model != stream || s.Ending {
		return
	}

	if tagged, err := protocol.WithStreamSID(raw, s.StreamSID); err == nil {
		e.broadcast(tagged, "model_event")
	}

	evt, err := protocol.ParseServerEvent(raw)
	if err != nil {
		e.countDrop(legModel, "malformed")
		e.log(s).Warn("dropping model frame", "error", err)
		return
	}
	e.countMessage(legModel, "inbound", string(evt.Type))

	switch evt.Type {
	case protocol.EventSessionUpdated:
		e.onSessionUpdated(s)
	case protocol.EventResponseCreated:
		e.onResponseCreated(s)
	case protocol.EventSpeechStarted:
		e.truncate(s)
	case protocol.EventResponseAudioDelta:
		e.onAudioDelta(s, evt)
	case protocol.EventResponseContentPartAdded:
		if evt.IsOutputZero() && evt.ItemID != "" {
			text := ""
			if evt.Part != nil {
				text = evt.Part.PlainText()
			}
			s.Items.AppendText(evt.ItemID, text)
		}
	case protocol.EventResponseAudioTranscriptDelta:
		if evt.IsOutputZero() && evt.ItemID != "" {
			s.Items.AppendText(evt.ItemID, evt.Delta)
		}
	case protocol.EventResponseOutputItemDone:
		e.onOutputItemDone(s, evt)
	case protocol.EventConversationItemCreated:
		e.onItemCreated(s, evt)
	case protocol.EventTranscriptionCompleted:
		s.Items.SetText(evt.ItemID, conversation.RoleUser, evt.Transcript, conversation.StatusCompleted)
		e.log(s).Info("caller transcript", "item_id", evt.ItemID, "text", policy.Redact(evt.Transcript))
		e.broadcast(protocol.NewTranscriptionEvent(s.StreamSID, evt.ItemID, evt.Transcript), protocol.TypeTranscription)
	case protocol.EventTranscriptionFailed:
		attrs := []any{"item_id", evt.ItemID}
		if evt.Error != nil {
			attrs = append(attrs, "code", evt.Error.Code, "message", evt.Error.Message)
		}
		e.log(s).Warn("caller transcription failed", attrs...)
	case protocol.EventResponseDone:
		if evt.Response != nil && evt.Response.Status == protocol.ResponseStatusFailed {
			e.log(s).Warn("response failed", "response_id", evt.Response.ID, "details", string(evt.Response.StatusDetails))
			s.Schedule(timerRetry, e.opts.FailedResponseDelay, func() {
				if !s.ModelOpen() {
					return
				}
				if e.metrics != nil {
					e.metrics.ResponseCreateRetries.Inc()
				}
				e.sendModel(s, protocol.NewResponseCreate(), protocol.TypeResponseCreate)
			})
		}
	case protocol.EventError:
		code := ""
		msg := ""
		if evt.Error != nil {
			code, msg = evt.Error.Code, evt.Error.Message
			if code == "" {
				code = evt.Error.Type
			}
		}
		if e.metrics != nil {
			e.metrics.ModelErrors.WithLabelValues(code).Inc()
		}
		e.log(s).Warn("model error", "code", code, "message", msg, "retryable", reliability.IsRetryableRealtimeError(code))
	default:
		// Mirrored to the observer above; nothing else to do.
	}
}

// onSessionUpdated requests a response after the settle delay on every
// session.updated, including ones caused by a mid-call observer update.
func (e *Engine) onSessionUpdated(s *session.Session) {
	if !s.ResponseCreated {
		s.SessionUpdatedAt = time.Now()
	}
	s.Schedule(timerSettle, e.opts.SettleDelay, func() { e.requestResponse(s) })
}

// requestResponse asks the model to respond. Until the first response.created
// it also arms the watchdog that re-asks once per window.
func (e *Engine) requestResponse(s *session.Session) {
	if !s.ModelOpen() {
		return
	}
	e.sendModel(s, protocol.NewResponseCreate(), protocol.TypeResponseCreate)
	if s.ResponseCreated {
		return
	}
	s.Schedule(timerWatchdog, e.opts.ResponseWatchdog, func() { e.onWatchdog(s) })
}

func (e *Engine) onWatchdog(s *session.Session) {
	if s.ResponseCreated || !s.ModelOpen() {
		return
	}
	s.ResponseRetries++
	if limit := e.opts.MaxResponseRetries; limit > 0 && s.ResponseRetries > limit {
		e.log(s).Error("model never acknowledged response.create", "attempts", s.ResponseRetries)
		e.sessionEvent("response_create_exhausted")
		e.broadcast(protocol.NewRelayErrorEvent(s.StreamSID, "response_create_timeout", "model did not acknowledge response.create"), protocol.TypeRelayError)
		return
	}
	e.log(s).Warn("response.create not acknowledged, retrying", "attempt", s.ResponseRetries)
	if e.metrics != nil {
		e.metrics.ResponseCreateRetries.Inc()
		e.metrics.ObserveIndicator("watchdog_retry")
	}
	e.requestResponse(s)
}

func (e *Engine) onResponseCreated(s *session.Session) {
	s.Cancel(timerWatchdog)
	if s.ResponseCreated {
		return
	}
	s.ResponseCreated = true
	s.ResponseCreatedAt = time.Now()
	if e.metrics != nil && !s.SessionUpdatedAt.IsZero() {
		e.metrics.ObserveStage(observability.StageSessionUpdateToCreate, s.ResponseCreatedAt.Sub(s.SessionUpdatedAt))
	}

	s.DrainQueue = append(s.DrainQueue, s.AudioBuffer...)
	s.AudioBuffer = nil
	e.drainNext(s)
}

// drainNext forwards one buffered chunk and schedules the next one a pacing
// interval later.
func (e *Engine) drainNext(s *session.Session) {
	if len(s.DrainQueue) == 0 {
		s.DrainQueue = nil
		return
	}
	chunk := s.DrainQueue[0]
	s.DrainQueue = s.DrainQueue[1:]
	if s.ModelOpen() {
		e.sendModel(s, protocol.NewInputAudioAppend(chunk.Payload), protocol.TypeInputAudioBufferAppend)
	} else {
		e.countDrop(legTelephony, "model_closed")
	}
	if len(s.DrainQueue) == 0 {
		s.DrainQueue = nil
		return
	}
	s.Schedule(timerDrain, e.opts.AudioPacing, func() { e.drainNext(s) })
}

func (e *Engine) truncate(s *session.Session) {
	if s.LastAssistantItemID == "" || s.ResponseStartMediaTS == nil {
		return
	}
	elapsed := s.LatestMediaTS - *s.ResponseStartMediaTS
	if elapsed < 0 {
		elapsed = 0
	}
	e.sendModel(s, protocol.NewTruncate(s.LastAssistantItemID, elapsed), protocol.TypeConversationItemTrunc)
	e.sendTelephony(s, protocol.NewOutboundClear(s.StreamSID), string(protocol.TelephonyEventClear))
	e.sessionEvent("barge_in")

	s.LastAssistantItemID = ""
	s.ResponseStartMediaTS = nil
}

func (e *Engine) onAudioDelta(s *session.Session, evt protocol.ServerEvent) {
	if s.ResponseStartMediaTS == nil || (evt.ItemID != "" && evt.ItemID != s.LastAssistantItemID) {
		ts := s.LatestMediaTS
		s.ResponseStartMediaTS = &ts
		if e.metrics != nil && !s.ResponseCreatedAt.IsZero() && s.LastAssistantItemID == "" {
			e.metrics.ObserveStage(observability.StageCreateToFirstAudio, time.Since(s.ResponseCreatedAt))
		}
	}
	if evt.ItemID != "" {
		s.LastAssistantItemID = evt.ItemID
	}

	e.sendTelephony(s, protocol.NewOutboundMedia(s.StreamSID, evt.Delta), string(protocol.TelephonyEventMedia))
	mark := evt.ItemID
	if mark == "" {
		mark = "responsePart"
	}
	e.sendTelephony(s, protocol.NewOutboundMark(s.StreamSID, mark), string(protocol.TelephonyEventMark))
}

func (e *Engine) onOutputItemDone(s *session.Session, evt protocol.ServerEvent) {
	if evt.Item == nil || evt.Item.ID == "" {
		return
	}
	item := conversation.FromRealtime(*evt.Item)
	switch evt.Item.Type {
	case protocol.ItemTypeFunctionCall:
		item.Status = conversation.StatusRunning
		s.Items.Upsert(item)
		e.callFunction(s, *evt.Item)
	case protocol.ItemTypeMessage:
		item.Status = conversation.StatusCompleted
		s.Items.Upsert(item)
	default:
		s.Items.Upsert(item)
	}
}

func (e *Engine) onItemCreated(s *session.Session, evt protocol.ServerEvent) {
	if evt.Item == nil || evt.Item.ID == "" {
		return
	}
	item := conversation.FromRealtime(*evt.Item)
	switch evt.Item.Type {
	case protocol.ItemTypeMessage:
		switch {
		case len(item.Content) > 0:
			item.Status = conversation.StatusCompleted
		default:
			item.Status = ""
			if _, ok := s.Items.Get(item.ID); !ok {
				item.Status = conversation.StatusRunning
			}
		}
		s.Items.Upsert(item)
	case protocol.ItemTypeFunctionCallOutput:
		item.Role = conversation.RoleTool
		item.Status = conversation.StatusCompleted
		s.Items.Upsert(item)
		s.Items.CompleteFunctionCall(item.CallID)
	case protocol.ItemTypeFunctionCall:
		if item.Status == "" {
			item.Status = conversation.StatusRunning
		}
		s.Items.Upsert(item)
	}
}

// callFunction dispatches a model function call off the loop and submits the
// result when the call is still live.
func (e *Engine) callFunction(s *session.Session, item protocol.RealtimeItem) {
	epoch := s.Epoch
	ctx := functions.WithCall(context.Background(), functions.CallInfo{
		StreamSID:    s.StreamSID,
		CallerNumber: s.CallerNumber,
		CalledNumber: s.CalledNumber,
	})
	started := time.Now()
	e.log(s).Info("function call", "name", item.Name, "call_id", item.CallID)

	go func() {
		out, err := e.functions.Dispatch(ctx, item.Name, item.Arguments)
		outcome := "ok"
		switch {
		case errors.Is(err, functions.ErrUnknownFunction):
			outcome = "unknown"
		case err != nil:
			outcome = "error"
		case isErrorPayload(out):
			outcome = "failed"
		}
		if e.metrics != nil {
			e.metrics.FunctionCalls.WithLabelValues(item.Name, outcome).Inc()
			e.metrics.ObserveStage(observability.StageFunctionCall, time.Since(started))
		}

		s.Post(func() {
			if err != nil {
				e.log(s).Warn("function dispatch error", "name", item.Name, "error", err)
			}
			if s.Epoch != epoch || s.Ending || !s.ModelOpen() {
				e.log(s).Info("dropping late function result", "name", item.Name, "call_id", item.CallID)
				return
			}
			e.sendModel(s, protocol.NewFunctionCallOutput(item.CallID, out), protocol.TypeConversationItemCreate)
			e.sendModel(s, protocol.NewResponseCreate(), protocol.TypeResponseCreate)
		})
	}()
}

func isErrorPayload(out string) bool {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(out), &payload) != nil {
		return false
	}
	return payload.Error != ""
}
