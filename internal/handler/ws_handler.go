package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-chat/internal/audit"
	"github.com/weiawesome/wes-chat/internal/auth"
	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/service"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/response"
)

// Authenticator verifies the handshake credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*domain.Identity, error)
}

type WSHandler struct {
	authn    Authenticator
	service  *service.ChatService
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(authn Authenticator, svc *service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		authn:   authn,
		service: svc,
		wsCfg:   wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// originChecker accepts requests without an Origin header, any origin when
// allowed is empty or holds "*", and otherwise only the listed origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// HandleWebSocket authenticates the handshake, upgrades the connection and
// starts the client's pumps. Unauthenticated requests get a 401 and never
// reach the upgrade.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := h.authn.Authenticate(ctx, auth.TokenFromRequest(r))
	if err != nil {
		audit.Log(ctx, audit.ActionAuthFailed, "", "websocket handshake rejected")
		writeJSON(w, http.StatusUnauthorized, response.Failure(response.CodeUnauthorized, "unauthorized"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := domain.NewSession(uuid.New().String(), identity)

	// The request context ends with this handler; the session keeps its
	// logger but not its cancellation.
	sessCtx := context.WithoutCancel(ctx)
	sessCtx = log.With(sessCtx, log.FieldSessionID, session.ID)
	sessCtx = log.With(sessCtx, log.FieldUserID, identity.UserID)

	client := hub.NewClient(sessCtx, conn, session, h.wsCfg)
	h.service.HandleConnect(client.Context(), client)

	go client.WritePump()
	go client.Dispatch(h.service.HandleFrame)
	go func() {
		client.ReadPump()
		h.service.HandleDisconnect(sessCtx, client)
	}()
}

func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/chat/ws", h.HandleWebSocket)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
