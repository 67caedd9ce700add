package api

import (
	"errors"
	"syscall"

	"github.com/gofiber/contrib/websocket"

	"github.com/coop-transport/controller/domain/status"
	customlog "github.com/coop-transport/controller/pkg/log"
)

// subscriberBuffer is the number of transitions queued per websocket client.
const subscriberBuffer = 64

// MissionWebSocketHandler streams every mission transition to the client as
// JSON until either side closes the connection.
func MissionWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, statusService *status.StatusService) {
	logger.Infof("Mission WebSocket connected: %s", conn.RemoteAddr())
	transitions, unsubscribe := statusService.Subscribe(subscriberBuffer)
	defer unsubscribe()

	// The client never sends anything we use; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logClose(logger, err)
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			logger.Infof("Mission WebSocket disconnected: %s", conn.RemoteAddr())
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			if err := conn.WriteJSON(t); err != nil {
				logger.Infof("Mission WS write failed: %v", err)
				return
			}
		}
	}
}

func logClose(logger customlog.Logger, err error) {
	switch {
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
		logger.Errorf("Mission WS read error: %v", err)
	case errors.Is(err, websocket.ErrCloseSent), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		logger.Infof("Mission WS connection closed normally.")
	default:
		logger.Debugf("Mission WS connection closed: %v", err)
	}
}
