package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	Setup()
}

func bindAnswer(t *testing.T, body string) map[string]string {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req model.AppendAnswerRequest
	return Bind(c, &req)
}

func TestAudioFileTag(t *testing.T) {
	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"relative wav", "/uploads/audio/a.wav", true},
		{"https webm", "https://cdn.example.com/a.webm", true},
		{"uppercase ext", "/uploads/audio/A.OGG", true},
		{"query string", "/uploads/audio/a.mp3?v=1", true},
		{"image", "/uploads/audio/a.png", false},
		{"no extension", "/uploads/audio/a", false},
		{"file scheme", "file:///etc/passwd.wav", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := bindAnswer(t, `{"question_id":"7f1c54a2-0c62-4d84-9a55-7b8f0b0f6a11","audio_url":"`+tt.url+`"}`)
			if tt.ok {
				assert.Nil(t, fields)
				return
			}
			require.Contains(t, fields, "audio_url")
			assert.Contains(t, fields["audio_url"], "must point to an audio file")
		})
	}
}

func TestBindReportsRequiredFields(t *testing.T) {
	fields := bindAnswer(t, `{}`)
	assert.Contains(t, fields, "question_id")
	assert.Contains(t, fields, "audio_url")
}

func TestBindReportsSyntaxErrors(t *testing.T) {
	fields := bindAnswer(t, `{"question_id":`)
	assert.Contains(t, fields, "detail")
}
