package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stemsi/exstem-oral/internal/runner"
	ws "github.com/stemsi/exstem-oral/internal/websocket"
)

const commandTimeout = 5 * time.Second

var errNotStarted = errors.New("the exam has not started")

// Stream godoc
// GET /ws
// Upgrades to WebSocket. The view sends actions and receives snapshots,
// notifications, microphone levels and check state.
func (c *Console) Stream(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	notes, cancelNotes := c.notes.Subscribe(32)
	defer cancelNotes()
	snaps, cancelSnaps := c.snapshots.Subscribe(8)
	defer cancelSnaps()
	levels, cancelLevels := c.levels.Subscribe(16)
	defer cancelLevels()

	out := make(chan any, 16)
	out <- ws.MicTestEvent{Event: ws.EventMicTest, Data: c.micTest()}
	if ctrl := c.session.Controller(); ctrl != nil {
		out <- ws.SnapshotEvent{Event: ws.EventSnapshot, Data: ctrl.Snapshot()}
	}

	connLog := c.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	connLog.Info().Msg("View connected")

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go c.writeLoop(conn, connLog, out, notes, snaps, levels, done, writerDone)

	reply := func(v any) {
		select {
		case out <- v:
		case <-writerDone:
		}
	}

	ws.PrepareRead(conn)
	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				connLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				connLog.Debug().Msg("Connection closed")
			}
			break
		}
		if ev := c.dispatch(req.Action); ev != nil {
			reply(ev)
		}
	}

	close(done)
	<-writerDone
}

// writeLoop is the only writer on conn.
func (c *Console) writeLoop(
	conn *websocket.Conn,
	log zerolog.Logger,
	out <-chan any,
	notes <-chan notify.Notification,
	snaps <-chan runner.Snapshot,
	levels <-chan recording.Level,
	done <-chan struct{},
	writerDone chan<- struct{},
) {
	defer close(writerDone)
	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	for {
		var msg any
		select {
		case <-done:
			return
		case v := <-out:
			msg = v
		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			msg = ws.NotificationEvent{Event: ws.EventNotification, Data: n}
		case s, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			msg = ws.SnapshotEvent{Event: ws.EventSnapshot, Data: s}
		case l, ok := <-levels:
			if !ok {
				levels = nil
				continue
			}
			msg = ws.LevelEvent{Event: ws.EventLevel, Data: l}
		case <-ping.C:
			if err := ws.WritePing(conn); err != nil {
				log.Debug().Err(err).Msg("Ping failed")
				conn.Close()
				return
			}
			continue
		}

		if err := ws.WriteTyped(conn, msg); err != nil {
			log.Debug().Err(err).Msg("Write failed")
			// Unblocks the reader.
			conn.Close()
			return
		}
	}
}

// dispatch runs one action and returns the event to answer with, if any.
// Snapshot changes reach the view through the snapshot bus.
func (c *Console) dispatch(action ws.Action) any {
	st := c.session.SelfTest()

	var err error
	switch action {
	case ws.ActionPing:
		return ws.PongEvent{Event: ws.EventPong}

	case ws.ActionMicStart:
		err = st.Start(c.appCtx)
	case ws.ActionMicStop:
		_, err = st.Stop(c.appCtx)
	case ws.ActionMicRerecord:
		err = st.Rerecord()
	case ws.ActionMicAccept:
		// An accepted check stays accepted; a failed start is retried with
		// the same action.
		if st.State() != recording.SelfTestAccepted {
			err = st.Accept()
		}
		if err == nil {
			err = c.session.Start(c.appCtx)
		}

	case ws.ActionNext, ws.ActionPrev, ws.ActionRetryFinalize, ws.ActionCancel:
		return errorEvent(c.command(action))

	case ws.ActionRetryUploads:
		n, err := c.session.RetryUploads()
		if err != nil {
			return errorEvent(err)
		}
		c.notes.Publish(notify.Info(notify.CodeUploadRetried, fmt.Sprintf("%d answer(s) queued for upload again.", n)))
		return nil

	default:
		return ws.ErrorEvent{Event: ws.EventError, Error: fmt.Sprintf("unknown action %q", action)}
	}

	if err != nil {
		c.log.Warn().Err(err).Str("action", string(action)).Msg("Microphone check action failed")
		return ws.ErrorEvent{Event: ws.EventError, Error: err.Error()}
	}
	return ws.MicTestEvent{Event: ws.EventMicTest, Data: c.micTest()}
}

func (c *Console) command(action ws.Action) error {
	ctrl := c.session.Controller()
	if ctrl == nil {
		return errNotStarted
	}
	ctx, cancel := context.WithTimeout(c.appCtx, commandTimeout)
	defer cancel()

	switch action {
	case ws.ActionNext:
		return ctrl.Next(ctx)
	case ws.ActionPrev:
		return ctrl.Prev(ctx)
	case ws.ActionRetryFinalize:
		return ctrl.RetryFinalize(ctx)
	default:
		return ctrl.Cancel(ctx)
	}
}

func errorEvent(err error) any {
	if err == nil {
		return nil
	}
	return ws.ErrorEvent{Event: ws.EventError, Error: err.Error()}
}
