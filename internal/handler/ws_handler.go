package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"inkroom/internal/app/board"
	"inkroom/internal/configs"
	"inkroom/internal/pkg/logx"
)

// NewUpgrader returns the websocket upgrader. Development accepts any origin; otherwise
// an origin must be on the allow-list, or match the request host when the list is empty.
func NewUpgrader(cfg *configs.AppConfig) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				return true
			}
			if len(allowed) == 0 && sameOrigin(origin, r.Host) {
				return true
			}

			logx.Warn("WebSocket connection rejected: origin not allowed.", "origin", origin)
			return false
		},
	}
}

func sameOrigin(origin, host string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// HandleWebSocket upgrades the request and runs the client's pumps. It returns when the
// connection closes.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Warn("WebSocket upgrade failed.", "error", err.Error())
			return
		}

		client := board.NewClient(deps.Controller, conn, r.RemoteAddr, deps.Config.MaxMessageBytes)

		go client.WritePump()
		client.ReadPump()
	}
}
