package verify

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"github.com/zombor/idverify/internal/capture"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	previewInterval = 100 * time.Millisecond
	previewWidth    = 480
	previewQuality  = 70
)

var previewUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// encodePreview downscales a frame for the live preview
func encodePreview(frame image.Image) ([]byte, error) {
	if frame.Bounds().Dx() > previewWidth {
		frame = imaging.Resize(frame, previewWidth, 0, imaging.Linear)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(previewQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handlePreview streams a camera session to the page. Text messages carry
// the session status whenever it changes; binary messages carry JPEG frames
// while the session is streaming. When the page goes away the session is
// closed, the same as dismissing the camera dialog.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cs, err := s.sessions.lookup(id)
	if err != nil {
		corsError(w, "Camera session not found", http.StatusNotFound)
		return
	}

	ws, err := previewUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Error upgrading preview connection", "session", id, "error", err)
		return
	}
	defer ws.Close()
	defer cs.session.Close()

	gone := make(chan struct{})
	go readPreview(ws, gone)

	ticker := time.NewTicker(previewInterval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var last capture.State = -1
	for {
		select {
		case <-gone:
			slog.Info("Preview disconnected", "session", id)
			return

		case <-cs.done:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteJSON(SessionStatus{ID: id, State: capture.StateReleased})
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return

		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ticker.C:
			state := cs.session.State()
			if state != last {
				last = state
				status := SessionStatus{ID: id, State: state, Error: cs.session.ErrorMessage()}
				data, err := json.Marshal(status)
				if err != nil {
					slog.Error("Error encoding preview status", "error", err)
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
			if state != capture.StateStreaming {
				continue
			}

			frame, err := cs.session.Frame()
			if err != nil {
				// The camera may not have produced its first frame yet.
				if !errors.Is(err, capture.ErrNoFrame) {
					slog.Debug("Preview frame unavailable", "session", id, "error", err)
				}
				continue
			}
			data, err := encodePreview(frame)
			if err != nil {
				slog.Warn("Error encoding preview frame", "session", id, "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}

// readPreview drains the connection so control frames are processed and
// closes gone once the peer disconnects
func readPreview(ws *websocket.Conn, gone chan struct{}) {
	defer close(gone)
	ws.SetReadLimit(1024)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Preview read error", "error", err)
			}
			return
		}
	}
}
