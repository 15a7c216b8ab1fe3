package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"featurerecall/internal/logger"
	"featurerecall/internal/services"
	progress "featurerecall/internal/services/websocket"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressWebsocketHandler streams detection progress events to a viewer.
func ProgressWebsocketHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(progress.PongWait))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(progress.PongWait))
			return nil
		})

		hub := manager.GetWebsocketService()
		hub.Register(connection)
		defer hub.Unregister(connection)

		stop := make(chan struct{})
		defer close(stop)
		go hub.KeepAlive(connection, stop)

		logger.Info("Progress viewer connected")

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Info("Progress viewer disconnected: %v", err)
				break
			}
		}
	}
}
