package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/config"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerStore struct {
	mu       sync.Mutex
	inserted []model.Answer
	batchErr error
}

func (s *fakeAnswerStore) Insert(_ context.Context, a *model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, *a)
	return nil
}

func (s *fakeAnswerStore) InsertBatch(_ context.Context, answers []model.Answer) error {
	if s.batchErr != nil {
		return s.batchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, answers...)
	return nil
}

func (s *fakeAnswerStore) ListLatest(context.Context, uuid.UUID) ([]model.Answer, error) {
	return nil, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func enqueue(t *testing.T, rdb *redis.Client, a model.Answer) {
	t.Helper()
	payload, err := json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, payload).Err())
}

func queued(t *testing.T, rdb *redis.Client) []model.Answer {
	t.Helper()
	items, err := rdb.LRange(context.Background(), config.WorkerKey.PersistAnswersQueue, 0, -1).Result()
	require.NoError(t, err)
	var out []model.Answer
	for _, raw := range items {
		var a model.Answer
		if json.Unmarshal([]byte(raw), &a) == nil {
			out = append(out, a)
		}
	}
	return out
}

func answerFor(submissionID uuid.UUID) model.Answer {
	return model.Answer{
		SubmissionID: submissionID,
		QuestionID:   uuid.New(),
		AudioURL:     "/uploads/audio/" + uuid.NewString() + ".wav",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestFlushQueuedClaimsOnlyOwnAnswers(t *testing.T) {
	rdb := newTestRedis(t)
	store := &fakeAnswerStore{}
	svc := &SubmissionService{answerRepo: store, rdb: rdb, log: zerolog.Nop()}

	mine, other := uuid.New(), uuid.New()
	a1, a2, b1 := answerFor(mine), answerFor(mine), answerFor(other)
	enqueue(t, rdb, a1)
	enqueue(t, rdb, b1)
	enqueue(t, rdb, a2)
	require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, "{broken").Err())

	require.NoError(t, svc.flushQueued(context.Background(), mine))

	assert.Equal(t, []model.Answer{a1, a2}, store.inserted)
	left, err := rdb.LLen(context.Background(), config.WorkerKey.PersistAnswersQueue).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, left, "other submissions and unreadable entries stay queued")
	assert.Equal(t, []model.Answer{b1}, queued(t, rdb))
}

func TestFlushQueuedRequeuesOnInsertFailure(t *testing.T) {
	rdb := newTestRedis(t)
	store := &fakeAnswerStore{batchErr: errors.New("connection refused")}
	svc := &SubmissionService{answerRepo: store, rdb: rdb, log: zerolog.Nop()}

	sub := uuid.New()
	a := answerFor(sub)
	enqueue(t, rdb, a)

	err := svc.flushQueued(context.Background(), sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, store.inserted)
	assert.Equal(t, []model.Answer{a}, queued(t, rdb), "the worker gets another chance")
}

func TestFlushQueuedWithoutRedisIsSkipped(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	store := &fakeAnswerStore{}
	svc := &SubmissionService{answerRepo: store, rdb: rdb, log: zerolog.Nop()}
	assert.NoError(t, svc.flushQueued(context.Background(), uuid.New()))
	assert.Empty(t, store.inserted)
}
