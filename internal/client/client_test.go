package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/sectiontree"
	"github.com/stemsi/exstem-oral/internal/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, errBody map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "error": errBody})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/v1/"}, zerolog.Nop())
}

func TestLoginStoresToken(t *testing.T) {
	var sawAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/student/login":
			var req model.StudentLoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ana@example.com", req.Email)
			writeEnvelope(w, http.StatusOK, map[string]any{
				"token":   "tok-1",
				"student": map[string]any{"id": 3, "email": req.Email, "name": "Ana"},
			}, nil)
		default:
			sawAuth = r.Header.Get("Authorization")
			writeEnvelope(w, http.StatusOK, map[string]any{"sections": []any{}}, nil)
		}
	})

	_, err := c.ListSections(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	student, err := c.Login(context.Background(), "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 3, student.ID)

	sections, err := c.ListSections(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, sections)
	assert.Equal(t, "Bearer tok-1", sawAuth)
}

func TestAPIErrorsAreDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusPaymentRequired, nil, map[string]any{
			"code": "PURCHASE_NOT_PAID", "message": "This purchase has not been paid.",
		})
	})
	c.SetToken("tok")

	_, err := c.CreateSubmission(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
	assert.True(t, IsCode(err, "PURCHASE_NOT_PAID"))
}

func TestNonJSONErrorKeepsStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	c.SetToken("tok")

	err := c.Complete(context.Background(), uuid.New())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestUploadAudioSendsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/student/media/audio", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)

		assert.Equal(t, "sub_q.wav", header.Filename)
		assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))
		assert.Equal(t, "RIFF....", string(data))
		writeEnvelope(w, http.StatusCreated, map[string]any{"filename": "x.wav", "url": "/uploads/audio/x.wav"}, nil)
	})
	c.SetToken("tok")

	url, err := c.UploadAudio(context.Background(), "sub_q.wav", "audio/wav", []byte("RIFF...."))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/audio/x.wav", url)
}

func TestAppendAnswerPayload(t *testing.T) {
	sub, q := uuid.New(), uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/student/submissions/"+sub.String()+"/answers", r.URL.Path)
		var req model.AppendAnswerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, q, req.QuestionID)
		assert.Equal(t, "/uploads/audio/x.wav", req.AudioURL)
		writeEnvelope(w, http.StatusAccepted, map[string]any{"status": "queued"}, nil)
	})
	c.SetToken("tok")
	require.NoError(t, c.AppendAnswer(context.Background(), sub, q, "/uploads/audio/x.wav"))
}

func TestDemoExamSequences(t *testing.T) {
	d := NewDemo(zerolog.Nop())
	ctx := context.Background()

	raw, err := d.ListSections(ctx, DemoTestID)
	require.NoError(t, err)
	roots, anomalies := sectiontree.Build(raw)
	assert.Empty(t, anomalies)

	flat := sectiontree.Flatten(roots)
	questions, err := sequencer.Build(ctx, flat, d, 2)
	require.NoError(t, err)
	require.Len(t, questions, 4)

	assert.Equal(t, "Introduce yourself.", questions[0].QuestionText)
	assert.Equal(t, "2.1", questions[2].SectionDisplayNumber)
	assert.Equal(t, "2.2", questions[3].SectionDisplayNumber)
	assert.Equal(t, 15, questions[3].PreparationSeconds())
	assert.Equal(t, 60, questions[3].SpeakingSeconds())
}
