package recording

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Entry is the local state of one question's answer.
type Entry struct {
	Recording *Recording
	Uploading bool
	Uploaded  bool
	AudioRef  string
}

// Library keeps finished recordings in memory, keyed by question, until they
// are uploaded. A failed upload leaves the audio in place so it can still be
// played back or retried.
type Library struct {
	urlPrefix string
	retain    bool

	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// NewLibrary creates a Library whose recordings are addressed as
// urlPrefix + question id.
func NewLibrary(urlPrefix string) *Library {
	return &Library{urlPrefix: urlPrefix, entries: make(map[uuid.UUID]*Entry)}
}

// RetainAudio keeps audio in memory after a successful upload. Demo mode
// uses it so every answer can still be played back.
func (l *Library) RetainAudio() {
	l.mu.Lock()
	l.retain = true
	l.mu.Unlock()
}

// Put stores rec, replacing any earlier take of the same question, and
// assigns its playback URL.
func (l *Library) Put(rec *Recording) {
	rec.URL = l.urlPrefix + rec.QuestionID.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[rec.QuestionID] = &Entry{Recording: rec}
}

// Claim reserves rec for one upload job. It fails when rec was replaced by a
// newer take, is already uploaded, or another job holds it.
func (l *Library) Claim(rec *Recording) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[rec.QuestionID]
	if !ok || e.Recording != rec || e.Uploaded || e.Uploading {
		return false
	}
	e.Uploading = true
	return true
}

// Release returns a claimed recording after a failed upload so it can be
// retried.
func (l *Library) Release(rec *Recording) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[rec.QuestionID]; ok && e.Recording == rec {
		e.Uploading = false
	}
}

// MarkUploaded records the durable reference and frees the local audio,
// unless a newer take replaced the uploaded one in the meantime.
func (l *Library) MarkUploaded(rec *Recording, ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[rec.QuestionID]
	if !ok || e.Recording != rec {
		return
	}
	e.Uploading = false
	e.Uploaded = true
	e.AudioRef = ref
	if !l.retain {
		e.Recording.Data = nil
	}
}

// Get returns a copy of the entry for a question.
func (l *Library) Get(questionID uuid.UUID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[questionID]
	if !ok {
		return Entry{}, false
	}
	out := *e
	rec := *e.Recording
	out.Recording = &rec
	return out, true
}

// Answered returns the number of questions with a recording.
func (l *Library) Answered() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Pending returns recordings whose upload has failed or never started,
// oldest first. Uploads in flight are left out.
func (l *Library) Pending() []*Recording {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Recording
	for _, e := range l.entries {
		if !e.Uploaded && !e.Uploading {
			out = append(out, e.Recording)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out
}
