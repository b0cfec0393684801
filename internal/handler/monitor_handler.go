package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/config"
	"github.com/stemsi/presensi-backend/internal/middleware"
	"github.com/stemsi/presensi-backend/internal/model"
	"github.com/stemsi/presensi-backend/internal/response"
	"github.com/stemsi/presensi-backend/internal/service"
	ws "github.com/stemsi/presensi-backend/internal/websocket"
)

const keepAliveInterval = 30 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// MonitorHandler streams live check-in events to the lesson's teacher.
type MonitorHandler struct {
	rdb           *redis.Client
	lessonService *service.LessonService
	log           zerolog.Logger
	upgrader      websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, lessonService *service.LessonService, log zerolog.Logger, allowedOrigins []string) *MonitorHandler {
	return &MonitorHandler{
		rdb:           rdb,
		lessonService: lessonService,
		log:           log.With().Str("component", "monitor_handler").Logger(),
		upgrader:      buildUpgrader(allowedOrigins),
	}
}

// MonitorLesson godoc
// WS /ws/v1/teacher/lessons/:id/monitor
// Upgrades to WebSocket and forwards every check-in event published on the
// lesson's monitor channel.
func (h *MonitorHandler) MonitorLesson(c *gin.Context) {
	account := middleware.GetAccount(c)
	if account == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership check before the upgrade: only the lesson's teacher may
	// watch its feed.
	records, err := h.lessonService.Records(c.Request.Context(), account.ID, lessonID)
	if err != nil {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("teacher_id", account.ID).
		Str("lesson_id", lessonID.String()).
		Logger()

	wsLog.Info().Msg("Teacher attached to live monitor")

	// Initial snapshot so the client does not start from a blank sheet.
	if err := ws.WriteTyped(conn, gin.H{"event": "snapshot", "records": records}); err != nil {
		wsLog.Warn().Err(err).Msg("Snapshot write failed")
		return
	}

	reqCtx := c.Request.Context()

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.LessonMonitorChannel(lessonID.String()))
	defer pubsub.Close()

	h.serve(reqCtx, conn, lessonID, pubsub.Channel(), wsLog)
}

// serve pumps events to the connection until the client leaves. Every write
// happens on this goroutine; the gorilla conn supports only one concurrent
// writer, so the reader never writes and only signals pings and the close
// handshake.
func (h *MonitorHandler) serve(ctx context.Context, conn *websocket.Conn, lessonID uuid.UUID, events <-chan *redis.Message, wsLog zerolog.Logger) {
	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	clientGone := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(clientGone)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg); err != nil {
				return
			}
			if msg.Action == ws.ActionPing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Teacher disconnected from live monitor")
			return

		case <-clientGone:
			wsLog.Debug().Msg("Connection closed")
			return

		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}

		case msg := <-events:
			if err := h.forward(conn, lessonID, msg.Payload); err != nil {
				wsLog.Warn().Err(err).Msg("Monitor write failed")
				return
			}

		case <-keepAliveTicker.C:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}
		}
	}
}

// forward re-shapes a published AttendanceRecord into the monitor event.
func (h *MonitorHandler) forward(conn *websocket.Conn, lessonID uuid.UUID, payload string) error {
	var rec model.AttendanceRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		// Malformed event, skip rather than kill the stream.
		h.log.Warn().Err(err).Msg("Discarding malformed monitor event")
		return nil
	}

	ev := ws.CheckinEvent{
		Event:     ws.EventCheckin,
		LessonID:  lessonID.String(),
		AccountID: rec.AccountID,
		Status:    string(rec.Status),
		Timestamp: time.Now().Unix(),
	}
	if rec.DistanceMeters != nil {
		ev.Distance = *rec.DistanceMeters
	}
	return ws.WriteTyped(conn, ev)
}
