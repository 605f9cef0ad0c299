// Package console serves the local exam view: a WebSocket the browser
// dispatches actions into and renders events from, plus playback of the
// audio held by the runner.
package console

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/middleware"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stemsi/exstem-oral/internal/response"
	"github.com/stemsi/exstem-oral/internal/runner"
	ws "github.com/stemsi/exstem-oral/internal/websocket"
)

// SelfTestPath is where the microphone check take is played back.
const SelfTestPath = "/recordings/selftest"

// Console bridges one exam session to any number of connected views.
type Console struct {
	appCtx    context.Context
	session   *runner.Session
	notes     *notify.Bus[notify.Notification]
	snapshots *notify.Bus[runner.Snapshot]
	levels    *notify.Bus[recording.Level]
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// New creates a Console. appCtx bounds the exam started from the view.
func New(
	appCtx context.Context,
	session *runner.Session,
	notes *notify.Bus[notify.Notification],
	snapshots *notify.Bus[runner.Snapshot],
	levels *notify.Bus[recording.Level],
	allowedOrigins []string,
	log zerolog.Logger,
) *Console {
	return &Console{
		appCtx:    appCtx,
		session:   session,
		notes:     notes,
		snapshots: snapshots,
		levels:    levels,
		upgrader:  buildUpgrader(allowedOrigins),
		log:       log.With().Str("component", "console").Logger(),
	}
}

// buildUpgrader validates the Origin header. An empty list only admits
// same-host pages, since the runner listens on the student's machine.
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowedOrigins) == 0 {
				return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://"), r.Host)
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Router builds the console's HTTP surface.
func (c *Console) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), response.RequestIDMiddleware(), middleware.RequestLogger(c.log))

	r.GET("/health", func(ctx *gin.Context) {
		response.Success(ctx, http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/api/state", c.State)
	r.GET("/recordings/:question_id", c.Recording)
	r.GET("/ws", c.Stream)
	return r
}

// State is the full picture a freshly opened view needs.
type State struct {
	MicTest    ws.MicTest                   `json:"mic_test"`
	Sections   []*model.HierarchicalSection `json:"sections"`
	Questions  int                          `json:"questions"`
	Submission *model.Submission            `json:"submission,omitempty"`
	Snapshot   *runner.Snapshot             `json:"snapshot,omitempty"`
}

// State godoc
// GET /api/state
func (c *Console) State(ctx *gin.Context) {
	st := State{
		MicTest:    c.micTest(),
		Sections:   c.session.Sections(),
		Questions:  len(c.session.Questions()),
		Submission: c.session.Submission(),
	}
	if ctrl := c.session.Controller(); ctrl != nil {
		snap := ctrl.Snapshot()
		st.Snapshot = &snap
	}
	response.Success(ctx, http.StatusOK, st)
}

// Recording godoc
// GET /recordings/:question_id
// Plays back a local answer, or the microphone check take for "selftest".
func (c *Console) Recording(ctx *gin.Context) {
	var rec *recording.Recording
	if ctx.Param("question_id") == "selftest" {
		rec = c.session.SelfTest().Take()
	} else {
		qid, err := uuid.Parse(ctx.Param("question_id"))
		if err != nil {
			response.Fail(ctx, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		if e, ok := c.session.Library().Get(qid); ok {
			rec = e.Recording
		}
	}

	if rec == nil || len(rec.Data) == 0 {
		response.Fail(ctx, http.StatusNotFound, response.ErrNotFound)
		return
	}
	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, rec.MIMEType, rec.Data)
}

func (c *Console) micTest() ws.MicTest {
	st := c.session.SelfTest()
	m := ws.MicTest{State: st.State()}
	if take := st.Take(); take != nil {
		m.DurationMS = take.Duration.Milliseconds()
		m.PlaybackURL = SelfTestPath
	}
	return m
}
