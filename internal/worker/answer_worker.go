package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/config"
	"github.com/stemsi/exstem-oral/internal/model"
)

// AnswerStore persists answers.
type AnswerStore interface {
	Insert(ctx context.Context, a *model.Answer) error
}

// AnswerWorker consumes the persist queue and appends answers to PostgreSQL.
type AnswerWorker struct {
	store      AnswerStore
	rdb        *redis.Client
	queue      string
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(store AnswerStore, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		store:      store,
		rdb:        rdb,
		queue:      config.WorkerKey.PersistAnswersQueue,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			w.sleep(ctx, time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var a model.Answer
	if err := json.Unmarshal([]byte(result[1]), &a); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping entry")
		return
	}

	if err := w.store.Insert(ctx, &a); err != nil {
		w.log.Error().Err(err).
			Str("submission_id", a.SubmissionID.String()).
			Str("question_id", a.QuestionID.String()).
			Msg("Persist error, retrying later")
		w.rdb.RPush(context.WithoutCancel(ctx), w.queue, result[1])
		w.sleep(ctx, w.retryDelay)
	}
}

// drain persists whatever is left in the queue before shutdown.
func (w *AnswerWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		var a model.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		if err := w.store.Insert(ctx, &a); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, w.queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func (w *AnswerWorker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
