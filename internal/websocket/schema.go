package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventCheckin Event = "checkin"
	EventPong    Event = "pong"
)

// CheckinEvent is pushed to the teacher monitor whenever a student's
// check-in attempt reaches a terminal state.
type CheckinEvent struct {
	Event     Event   `json:"event"`
	LessonID  string  `json:"lesson_id"`
	AccountID int     `json:"account_id"`
	Status    string  `json:"status"`
	Distance  float64 `json:"distance_m"`
	Timestamp int64   `json:"timestamp"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
