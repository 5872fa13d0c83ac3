package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m4xw311/puck/errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Transcript is the record of one agent run: every message that entered the
// input buffer, in order, plus how the run ended.
type Transcript struct {
	Name       string    `json:"name"`
	Request    string    `json:"request"`
	Messages   []Message `json:"messages"`
	StopReason string    `json:"stop_reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	mu sync.Mutex
}

// New creates an empty transcript for the named run.
func New(name, request string) *Transcript {
	return &Transcript{
		Name:      name,
		Request:   request,
		Messages:  []Message{},
		StartedAt: time.Now(),
	}
}

// AddMessage appends a message to the transcript.
func (t *Transcript) AddMessage(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, msg)
}

// Finish stamps the end of the run.
func (t *Transcript) Finish(reason string, runErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StopReason = reason
	if runErr != nil {
		t.Error = runErr.Error()
	}
	t.FinishedAt = time.Now()
}

func (t *Transcript) marshal() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.MarshalIndent(t, "", "  ")
}

// Store persists transcripts. The engine never reads them back; stores exist
// so a host can inspect what a run did.
type Store interface {
	Save(ctx context.Context, t *Transcript) error
	Load(ctx context.Context, name string) (*Transcript, error)
}

// FileStore keeps one JSON file per transcript under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create session directory")
	}
	return &FileStore{dir: dir}, nil
}

// DefaultDir is the project-local transcript directory.
func DefaultDir() string {
	return filepath.Join(".puck", "sessions")
}

// Save writes the transcript to disk.
func (s *FileStore) Save(_ context.Context, t *Transcript) error {
	data, err := t.marshal()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	return os.WriteFile(s.path(t.Name), data, 0644)
}

// Load reads an existing transcript from disk.
func (s *FileStore) Load(_ context.Context, name string) (*Transcript, error) {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	return &t, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", name))
}
