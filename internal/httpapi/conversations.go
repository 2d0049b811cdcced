package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/callrelay/internal/conversation"
)

type conversationDetail struct {
	conversation.Conversation
	Items []conversation.Item `json:"items"`
}

func parseListFilter(r *http.Request) (conversation.ListFilter, error) {
	q := r.URL.Query()
	f := conversation.ListFilter{
		PhoneNumber:    strings.TrimSpace(q.Get("phone_number")),
		PhoneNumberSID: strings.TrimSpace(q.Get("phone_number_sid")),
		CallerNumber:   strings.TrimSpace(q.Get("caller_number")),
	}
	var err error
	if v := strings.TrimSpace(q.Get("since")); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("since must be RFC3339")
		}
	}
	if v := strings.TrimSpace(q.Get("until")); v != "" {
		if f.Until, err = time.Parse(time.RFC3339, v); err != nil {
			return f, errors.New("until must be RFC3339")
		}
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation store not configured")
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	convs, err := s.store.ListConversations(r.Context(), filter)
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []conversation.Conversation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation store not configured")
		return
	}
	streamSID := strings.TrimSpace(chi.URLParam(r, "streamSid"))
	conv, err := s.store.GetConversationByStreamSID(r.Context(), streamSID)
	if errors.Is(err, conversation.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get conversation failed", "stream_sid", streamSID, "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load conversation")
		return
	}
	items, err := s.store.GetItems(r.Context(), conv.ID)
	if err != nil && !errors.Is(err, conversation.ErrNotFound) {
		s.logger.Error("get items failed", "stream_sid", streamSID, "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", "failed to load items")
		return
	}
	if items == nil {
		items = []conversation.Item{}
	}
	respondJSON(w, http.StatusOK, conversationDetail{Conversation: conv, Items: items})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation store not configured")
		return
	}
	streamSID := strings.TrimSpace(chi.URLParam(r, "streamSid"))
	deleted, err := s.store.DeleteConversation(r.Context(), streamSID)
	if err != nil {
		s.logger.Error("delete conversation failed", "stream_sid", streamSID, "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", "failed to delete conversation")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "conversation_not_found", conversation.ErrNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": true, "stream_sid": streamSID})
}
