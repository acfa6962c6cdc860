package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"finance-orchestrator/internal/common/database"
	apperrors "finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
	"finance-orchestrator/internal/security/injection"
)

const (
	maxBodyBytes     = 1 << 20
	readinessTimeout = 3 * time.Second
	llmHealthTimeout = 15 * time.Second
)

type validator interface {
	Validate() error
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst validator) *apperrors.StandardError {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewInvalidInputError("request body is required")
		}
		return apperrors.NewInvalidInputError("request body is not valid JSON")
	}
	if err := dst.Validate(); err != nil {
		return validationError(err)
	}
	return nil
}

func (s *Server) newQuery(r *http.Request, text string, ctx map[string]string) models.Query {
	return models.NewQuery(text, ctx, correlationID(r.Context())).WithUser(userID(r.Context()))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.deps.Processor.Process(r.Context(), s.newQuery(r, req.Query, req.Context))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newQueryResponse(resp))
}

func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.deps.Security.AuthEnabled {
		if err := injection.ValidateFinancialOperation(role(r.Context()), req.Amount); err != nil {
			s.writeError(w, r, apperrors.NewForbiddenError(err.Error()))
			return
		}
	}

	s.direct(w, r, models.IntentInvoice, req.query(), req.entities())
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.direct(w, r, models.IntentPayment, req.Query, req.entities())
}

func (s *Server) handleCommission(w http.ResponseWriter, r *http.Request) {
	var req CommissionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.direct(w, r, models.IntentCommission, req.query(), req.entities())
}

func (s *Server) direct(w http.ResponseWriter, r *http.Request, intent models.Intent, text string, entities map[string]interface{}) {
	resp, err := s.deps.Processor.ProcessDirect(r.Context(), intent, s.newQuery(r, text, nil), entities)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, newQueryResponse(resp))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "finance-orchestrator",
		"version": s.deps.Version,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := database.CheckAll(r.Context(), readinessTimeout, s.deps.Stores...)
	if s.deps.Gateway != nil {
		checks["llm_provider"] = "ok"
	} else {
		checks["llm_provider"] = "not configured"
	}

	status, code := "ready", http.StatusOK
	if !database.Healthy(checks) {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// handleLLMHealth sends a tiny prompt to the configured provider.
func (s *Server) handleLLMHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"orchestrator_model": s.deps.LLM.ClassificationModel,
		"agent_model":        s.deps.LLM.AgentModel,
	}
	if s.deps.Gateway == nil {
		body["status"] = "unhealthy"
		body["error"] = "no llm provider configured"
		s.respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["provider"] = s.deps.Gateway.Provider()

	ctx, cancel := context.WithTimeout(r.Context(), llmHealthTimeout)
	defer cancel()

	start := s.now()
	out, err := s.deps.Gateway.Complete(ctx, gateway.Request{
		Model:     s.deps.LLM.ClassificationModel,
		Messages:  []gateway.Message{{Role: gateway.RoleUser, Content: "Say OK"}},
		MaxTokens: 50,
	})
	body["latency_ms"] = s.now().Sub(start).Milliseconds()
	if err != nil {
		body["status"] = "unhealthy"
		body["error"] = string(apperrors.FromError(err).Code)
		s.respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "healthy"
	body["test_response"] = out["content"]
	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// writeError answers with the status mapped from the error code. Details are
// only echoed for caller mistakes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := apperrors.FromError(err)

	message := stdErr.Message
	switch stdErr.Code {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeForbidden, apperrors.ErrCodeUnauthorized:
		if stdErr.Details != "" {
			message += ": " + stdErr.Details
		}
	}

	status := apperrors.HTTPStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":          r.URL.Path,
			"errorCode":     stdErr.Code,
			"details":       stdErr.Details,
			"correlationId": correlationID(r.Context()),
		})
	}

	s.respondJSON(w, status, errorBody{
		Error:     errorDetail{Code: stdErr.Code, Message: message},
		RequestID: correlationID(r.Context()),
	})
}
