package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/model"
	ws "github.com/stemsi/presensi-backend/internal/websocket"
)

// monitorTestServer runs the connection pump against a real upgraded
// connection, with the event feed injected in place of the redis channel.
func monitorTestServer(t *testing.T, events <-chan *redis.Message, lessonID uuid.UUID) (*httptest.Server, chan struct{}) {
	t.Helper()

	h := &MonitorHandler{
		log:      zerolog.Nop(),
		upgrader: buildUpgrader(nil),
	}

	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		h.serve(r.Context(), conn, lessonID, events, zerolog.Nop())
		close(served)
	}))
	return srv, served
}

func dialMonitor(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// Pings arriving while events are being forwarded must not race the event
// writes: the pump owns the connection, the reader only signals.
func TestMonitorServeSingleWriter(t *testing.T) {
	lessonID := uuid.New()
	events := make(chan *redis.Message)

	srv, served := monitorTestServer(t, events, lessonID)
	defer srv.Close()

	conn := dialMonitor(t, srv)
	defer conn.Close()

	const rounds = 50

	payload, _ := json.Marshal(model.AttendanceRecord{
		LessonID:  lessonID,
		AccountID: 7,
		Status:    model.AttendancePresent,
	})
	go func() {
		for i := 0; i < rounds; i++ {
			events <- &redis.Message{Payload: string(payload)}
		}
	}()
	go func() {
		for i := 0; i < rounds; i++ {
			if err := conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionPing}); err != nil {
				return
			}
		}
	}()

	var pongs, checkins int
	deadline := time.Now().Add(5 * time.Second)
	for checkins < rounds {
		conn.SetReadDeadline(deadline)
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read (pongs=%d checkins=%d): %v", pongs, checkins, err)
		}
		switch msg["event"] {
		case string(ws.EventPong):
			pongs++
		case string(ws.EventCheckin):
			checkins++
		default:
			t.Fatalf("unexpected event %v", msg["event"])
		}
	}
	if pongs == 0 {
		t.Error("pings interleaved with events must still be answered")
	}

	conn.Close()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after the client closed")
	}
}

func TestMonitorServeForwardsEvent(t *testing.T) {
	lessonID := uuid.New()
	events := make(chan *redis.Message, 1)

	srv, _ := monitorTestServer(t, events, lessonID)
	defer srv.Close()

	conn := dialMonitor(t, srv)
	defer conn.Close()

	distance := 42.5
	payload, _ := json.Marshal(model.AttendanceRecord{
		LessonID:       lessonID,
		AccountID:      7,
		Status:         model.AttendanceSuspicious,
		DistanceMeters: &distance,
	})
	events <- &redis.Message{Payload: string(payload)}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev ws.CheckinEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Event != ws.EventCheckin || ev.LessonID != lessonID.String() {
		t.Errorf("event = %+v, want a checkin event for the lesson", ev)
	}
	if ev.AccountID != 7 || ev.Status != string(model.AttendanceSuspicious) || ev.Distance != distance {
		t.Errorf("event = %+v, want the published record's fields", ev)
	}
}
