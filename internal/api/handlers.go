package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/memory"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/policy"
	"github.com/BTreeMap/LeadPipe/internal/signals"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/validator"
)

// Analysis is the deterministic view of a conversation: what the agent
// believes and what it would do next.
type Analysis struct {
	State          memory.State          `json:"state"`
	Recommendation policy.Recommendation `json:"recommendation"`
	Temperature    models.Temperature    `json:"temperature"`
	LeadScore      int                   `json:"leadScore"`
	Observations   policy.Observations   `json:"observations"`
	Rules          validator.RuleSet     `json:"rules"`
}

// Analyze builds the Analysis of history at now.
func Analyze(history []models.Message, now time.Time) Analysis {
	state := memory.Build(history)
	rec := policy.Decide(state)
	return Analysis{
		State:          state,
		Recommendation: rec,
		Temperature:    state.Temperature(),
		LeadScore:      state.LeadScore(),
		Observations:   policy.Observe(state, signals.Temporal(history, now)),
		Rules:          validator.ContextFor(state).Rules(),
	}
}

// ConversationView is returned by GET /conversations/{phone}.
type ConversationView struct {
	Phone    string                     `json:"phone"`
	History  []models.Message           `json:"history"`
	Status   *models.ConversationStatus `json:"status,omitempty"`
	Lead     *models.Lead               `json:"lead,omitempty"`
	Analysis Analysis                   `json:"analysis"`
}

type analyzeRequest struct {
	Messages []models.Message `json:"messages"`
}

type messageRequest struct {
	Text string `json:"text"`
	// Deliver sends the replies through the messaging service.
	Deliver bool `json:"deliver,omitempty"`
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"agent":     s.handler != nil,
		"transport": s.msgService != nil,
	})
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logx.Warn().Err(err).Msg("analyzeHandler invalid JSON")
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid JSON format"))
		return
	}
	for i, m := range req.Messages {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			writeJSONResponse(w, http.StatusBadRequest, Error(fmt.Sprintf("messages[%d]: unsupported role %q", i, m.Role)))
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, Success(Analyze(req.Messages, time.Now())))
}

func (s *Server) phoneParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	phone, err := messaging.CanonicalizePhone(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid phone number: "+err.Error()))
		return "", false
	}
	return phone, true
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	phone, ok := s.phoneParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	history, err := s.st.History(ctx, phone)
	if err != nil {
		logx.Error().Err(err).Str("phone", phone).Msg("getConversationHandler history failed")
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to load conversation"))
		return
	}
	if len(history) == 0 {
		writeJSONResponse(w, http.StatusNotFound, Error("Conversation not found"))
		return
	}
	view := ConversationView{Phone: phone, History: history, Analysis: Analyze(history, time.Now())}

	if status, err := s.st.GetConversationStatus(ctx, phone); err == nil {
		view.Status = &status
	} else if !errors.Is(err, store.ErrNotFound) {
		logx.Warn().Err(err).Str("phone", phone).Msg("getConversationHandler status lookup failed")
	}
	if lead, err := s.st.GetLead(ctx, phone); err == nil {
		view.Lead = &lead
	} else if !errors.Is(err, store.ErrNotFound) {
		logx.Warn().Err(err).Str("phone", phone).Msg("getConversationHandler lead lookup failed")
	}
	writeJSONResponse(w, http.StatusOK, Success(view))
}

// postMessageHandler runs a lead message through the agent as if it had
// arrived on the transport.
func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	if s.handler == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, Error("Agent not configured"))
		return
	}
	phone, ok := s.phoneParam(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONResponse(w, http.StatusBadRequest, Error("Missing required field: text"))
		return
	}
	if req.Deliver && s.msgService == nil {
		writeJSONResponse(w, http.StatusBadRequest, Error("No messaging service configured"))
		return
	}

	reply, err := s.handler.HandleMessage(r.Context(), phone, req.Text)
	if err != nil {
		logx.Error().Err(err).Str("phone", phone).Msg("postMessageHandler agent failed")
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to handle message"))
		return
	}
	if req.Deliver {
		for _, msg := range reply.Messages {
			if err := s.msgService.SendMessage(r.Context(), phone, msg); err != nil {
				logx.Error().Err(err).Str("phone", phone).Msg("postMessageHandler delivery failed")
				writeJSONResponse(w, http.StatusBadGateway, Error("Failed to deliver reply"))
				return
			}
		}
	}
	writeJSONResponse(w, http.StatusOK, Success(reply))
}

// sendHandler sends an operator message to a lead without involving the agent.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if s.msgService == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, Error("No messaging service configured"))
		return
	}
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logx.Warn().Err(err).Msg("Server.sendHandler: failed to decode JSON")
		writeJSONResponse(w, http.StatusBadRequest, Error("Invalid JSON format"))
		return
	}
	to, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, Error(err.Error()))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSONResponse(w, http.StatusBadRequest, Error("Missing required field: body"))
		return
	}
	if err := s.msgService.SendMessage(r.Context(), to, req.Body); err != nil {
		logx.Error().Err(err).Str("to", to).Msg("Server.sendHandler: failed to send message")
		writeJSONResponse(w, http.StatusInternalServerError, Error("Failed to send message"))
		return
	}
	logx.Info().Str("to", to).Msg("Server.sendHandler: message sent successfully")
	writeJSONResponse(w, http.StatusOK, APIResponse{Status: APIStatusOK, Message: "Message sent successfully"})
}
