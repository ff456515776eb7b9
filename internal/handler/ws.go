package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"novel-workflow/shared/models"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов. Должен быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не присылает, кроме control-фреймов.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin проверяет CORS middleware на уровне роутера.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// tokenFromQuery переносит ?token= в заголовок Authorization: браузерный
// WebSocket не умеет передавать заголовки.
func tokenFromQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			if token := c.Query("token"); token != "" {
				c.Request.Header.Set("Authorization", "Bearer "+token)
			}
		}
		c.Next()
	}
}

// streamStatus отправляет статус запроса при каждом его изменении и закрывает
// соединение, когда статус перестает меняться.
func (h *Handler) streamStatus(c *gin.Context) {
	requestID, ok := parseUUIDParam(c, "requestId")
	if !ok {
		return
	}
	userID := c.GetString(models.GinUserIDKey)

	// Первое чтение до апгрейда: ошибки доступа отдаются обычным HTTP ответом.
	st, err := h.statuses.GetStatus(c.Request.Context(), userID, requestID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade status stream", zap.Error(err))
		return
	}
	log := h.logger.With(zap.String("request_id", requestID.String()), zap.String("user_id", userID))
	log.Debug("Status stream opened")
	defer func() {
		_ = conn.Close()
		log.Debug("Status stream closed")
	}()

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var last []byte
	for {
		payload, err := json.Marshal(st)
		if err != nil {
			log.Error("Failed to encode status", zap.Error(err))
			return
		}
		if !bytes.Equal(payload, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug("Status stream write failed", zap.Error(err))
				return
			}
			last = payload
		}
		if st.Settled() {
			closeStream(conn, "request finished")
			return
		}

		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-ticker.C:
		}

		next, err := h.statuses.GetStatus(c.Request.Context(), userID, requestID)
		if err != nil {
			log.Warn("Status lookup failed during stream", zap.Error(err))
			closeStream(conn, "status unavailable")
			return
		}
		st = next
	}
}

// readPump читает control-фреймы, пока клиент не закроет соединение.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
