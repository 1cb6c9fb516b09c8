// Package httpapi exposes the orchestration facade over a small JSON API.
// It is a thin transport adapter: identity comes from a Bearer JWT, the
// body is one command, and the response is the command's display payload.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/tunnelkeep/tunnelkeep/internal/auth"
	"github.com/tunnelkeep/tunnelkeep/internal/cloudflare"
	"github.com/tunnelkeep/tunnelkeep/internal/models"
	"github.com/tunnelkeep/tunnelkeep/internal/orchestrator"
	"github.com/tunnelkeep/tunnelkeep/internal/store"
	"github.com/tunnelkeep/tunnelkeep/internal/tunnel"
)

// Server routes authenticated command requests to the facade.
type Server struct {
	facade   *orchestrator.Facade
	verifier *auth.TokenVerifier
}

func NewServer(facade *orchestrator.Facade, verifier *auth.TokenVerifier) *Server {
	return &Server{facade: facade, verifier: verifier}
}

// Handler builds the full middleware chain: CORS, client IP capture, and
// JWT auth on the command endpoint. The health endpoint is public.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/v1/commands", AuthMiddleware(s.verifier)(http.HandlerFunc(s.handleCommand)))

	handler := ClientIPMiddleware()(mux)

	middleware := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return middleware.Handler(handler)
}

// CommandRequest is the wire form of one command. Only the fields the
// named command uses need to be set.
type CommandRequest struct {
	Name        string         `json:"name"`
	TenantID    *uuid.UUID     `json:"tenant_id,omitempty"`
	TenantName  string         `json:"tenant_name,omitempty"`
	Token       string         `json:"token,omitempty"`
	AccountID   string         `json:"account_id,omitempty"`
	AdminUserID string         `json:"admin_user_id,omitempty"`
	ZoneID      string         `json:"zone_id,omitempty"`
	RecordID    string         `json:"record_id,omitempty"`
	Record      *RecordRequest `json:"record,omitempty"`
	GroupID     *uuid.UUID     `json:"group_id,omitempty"`
	GroupName   string         `json:"group_name,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	TunnelID    *uuid.UUID     `json:"tunnel_id,omitempty"`
	TunnelName  string         `json:"tunnel_name,omitempty"`
	Subdomain   string         `json:"subdomain,omitempty"`
	ServiceURL  string         `json:"service_url,omitempty"`
	CIDR        string         `json:"cidr,omitempty"`
	Text        string         `json:"text,omitempty"`
}

type RecordRequest struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Proxied  bool   `json:"proxied"`
	Priority *int   `json:"priority,omitempty"`
}

type SessionView struct {
	ActiveTenantID *uuid.UUID `json:"active_tenant_id,omitempty"`
	ActiveTunnelID *uuid.UUID `json:"active_tunnel_id,omitempty"`
	PendingInput   string     `json:"pending_input,omitempty"`
}

type CommandResponse struct {
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	Session *SessionView `json:"session,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Only POST is supported.")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	userID := UserIDFromContext(r.Context())
	cmd := req.toCommand()

	session, result, err := s.facade.Handle(r.Context(), userID, cmd)
	if err != nil {
		log.Debug().
			Str("user_id", userID).
			Str("command", string(cmd.Name)).
			Str("client_ip", ClientIPFromContext(r.Context())).
			Err(err).
			Msg("Command failed")
		writeJSON(w, statusFor(err), CommandResponse{Message: result.Message})
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{
		Message: result.Message,
		Data:    result.Data,
		Session: viewOf(session),
	})
}

func (r *CommandRequest) toCommand() orchestrator.Command {
	cmd := orchestrator.Command{
		Name:        orchestrator.Name(r.Name),
		TenantID:    r.TenantID,
		TenantName:  r.TenantName,
		Token:       r.Token,
		AccountID:   r.AccountID,
		AdminUserID: r.AdminUserID,
		ZoneID:      r.ZoneID,
		RecordID:    r.RecordID,
		GroupID:     r.GroupID,
		GroupName:   r.GroupName,
		Domain:      r.Domain,
		TunnelID:    r.TunnelID,
		TunnelName:  r.TunnelName,
		Subdomain:   r.Subdomain,
		ServiceURL:  r.ServiceURL,
		CIDR:        r.CIDR,
		Text:        r.Text,
	}
	if r.Record != nil {
		cmd.Record = &orchestrator.RecordArgs{
			Type:     r.Record.Type,
			Name:     r.Record.Name,
			Content:  r.Record.Content,
			TTL:      r.Record.TTL,
			Proxied:  r.Record.Proxied,
			Priority: r.Record.Priority,
		}
	}
	return cmd
}

func viewOf(session *models.Session) *SessionView {
	if session == nil {
		return nil
	}
	return &SessionView{
		ActiveTenantID: session.ActiveTenantID,
		ActiveTunnelID: session.ActiveTunnelID,
		PendingInput:   string(session.Pending.Kind),
	}
}

// statusFor maps the facade's error taxonomy onto HTTP status codes. The
// response body always carries the display message produced by the facade.
func statusFor(err error) int {
	var denied *auth.DeniedError
	var authz *orchestrator.AuthorizationError
	var stale *orchestrator.StaleReferenceError
	var usage *orchestrator.UsageError
	var validation *cloudflare.ValidationError
	var transient *cloudflare.TransientError
	var permanent *cloudflare.PermanentError

	switch {
	case errors.As(err, &denied), errors.As(err, &authz):
		return http.StatusForbidden
	case errors.As(err, &stale):
		return http.StatusGone
	case errors.As(err, &usage), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	case errors.As(err, &permanent):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrTenantNotFound),
		errors.Is(err, store.ErrTunnelNotFound),
		errors.Is(err, store.ErrDomainGroupNotFound),
		errors.Is(err, tunnel.ErrHostnameNotFound),
		errors.Is(err, tunnel.ErrNetworkNotFound):
		return http.StatusNotFound
	case errors.Is(err, tunnel.ErrNameInUse),
		errors.Is(err, tunnel.ErrNotConfigurable),
		errors.Is(err, store.ErrTenantAlreadyExists),
		errors.Is(err, store.ErrDomainGroupAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, CommandResponse{Message: message})
}
