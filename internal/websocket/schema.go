package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stemsi/exstem-oral/internal/runner"
)

// ─── Actions (View → Runner) ────────────────────────────────────────

type Action string

const (
	ActionMicStart      Action = "mic_start"
	ActionMicStop       Action = "mic_stop"
	ActionMicRerecord   Action = "mic_rerecord"
	ActionMicAccept     Action = "mic_accept"
	ActionNext          Action = "next"
	ActionPrev          Action = "prev"
	ActionRetryFinalize Action = "retry_finalize"
	ActionRetryUploads  Action = "retry_uploads"
	ActionCancel        Action = "cancel"
	ActionPing          Action = "ping"
)

// Request is every message the view sends. Actions carry no payload today.
type Request struct {
	Action Action `json:"action"`
}

// ─── Events (Runner → View) ─────────────────────────────────────────

type Event string

const (
	EventSnapshot     Event = "snapshot"
	EventNotification Event = "notification"
	EventLevel        Event = "level"
	EventMicTest      Event = "mic_test"
	EventPong         Event = "pong"
	EventError        Event = "error"
)

// Message is the envelope of every event; Data depends on Event.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type SnapshotEvent struct {
	Event Event           `json:"event"`
	Data  runner.Snapshot `json:"data"`
}

type NotificationEvent struct {
	Event Event               `json:"event"`
	Data  notify.Notification `json:"data"`
}

type LevelEvent struct {
	Event Event           `json:"event"`
	Data  recording.Level `json:"data"`
}

// MicTest describes the microphone check step and the reviewable take.
type MicTest struct {
	State       recording.SelfTestState `json:"state"`
	DurationMS  int64                   `json:"duration_ms,omitempty"`
	PlaybackURL string                  `json:"playback_url,omitempty"`
}

type MicTestEvent struct {
	Event Event   `json:"event"`
	Data  MicTest `json:"data"`
}

type PongEvent struct {
	Event Event `json:"event"`
}

type ErrorEvent struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}
