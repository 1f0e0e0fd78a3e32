package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	// TODO: restrict origins once the allowed dashboard hosts are configurable.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHealth upgrades to WebSocket and pushes the health report every wsInterval until the
// client disconnects.
func (s *Server) wsHealth(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				utils.Logger.Info("websocket client disconnected", "err", err)
				return
			}
		}
	}()

	ticker := time.NewTicker(s.wsInterval)
	defer ticker.Stop()
	for {
		report, err := s.svc.Health.HealthStatus(ctx)
		if err != nil {
			utils.Logger.Error("health stream read failed", "err", err)
		} else if err := conn.WriteJSON(report); err != nil {
			utils.Logger.Info("websocket write failed, stopping stream", "err", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
