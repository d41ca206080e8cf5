package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxSavedDrafts caps the saved drafts list; older entries fall off.
const MaxSavedDrafts = 25

var ErrEmptyDraft = errors.New("inbox: draft has no subject or body")

// Draft is the autosaved compose state for one agent.
type Draft struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SavedDraft is an explicitly saved draft.
type SavedDraft struct {
	ID        string    `json:"id"`
	AgentKey  string    `json:"agentKey"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type draftFile struct {
	Drafts map[string]Draft `json:"drafts"`
	Saved  []SavedDraft     `json:"saved"`
}

// Drafts persists drafts as a JSON file.
type Drafts struct {
	mu   sync.Mutex
	path string
	data draftFile
	now  func() time.Time
}

// DefaultDraftsPath is drafts.json under the user's config directory.
func DefaultDraftsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("inbox: locate config dir: %w", err)
	}
	return filepath.Join(dir, "agent-inbox", "drafts.json"), nil
}

// OpenDrafts loads path, starting empty when it does not exist.
func OpenDrafts(path string) (*Drafts, error) {
	d := &Drafts{
		path: path,
		data: draftFile{Drafts: map[string]Draft{}},
		now:  func() time.Time { return time.Now().UTC() },
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inbox: read drafts: %w", err)
	}
	if err := json.Unmarshal(raw, &d.data); err != nil {
		return nil, fmt.Errorf("inbox: decode drafts: %w", err)
	}
	if d.data.Drafts == nil {
		d.data.Drafts = map[string]Draft{}
	}
	return d, nil
}

func (d *Drafts) Get(agent string) (Draft, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dr, ok := d.data.Drafts[agent]
	return dr, ok
}

// Put autosaves agent's draft. A blank draft removes it.
func (d *Drafts) Put(agent, subject, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.TrimSpace(subject) == "" && strings.TrimSpace(body) == "" {
		delete(d.data.Drafts, agent)
	} else {
		d.data.Drafts[agent] = Draft{Subject: subject, Body: body, UpdatedAt: d.now()}
	}
	return d.flushLocked()
}

// Discard removes agent's autosaved draft, typically after a successful send.
func (d *Drafts) Discard(agent string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data.Drafts[agent]; !ok {
		return nil
	}
	delete(d.data.Drafts, agent)
	return d.flushLocked()
}

// Save adds a draft to the front of the saved list.
func (d *Drafts) Save(agent, subject, body string) (SavedDraft, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" && strings.TrimSpace(body) == "" {
		return SavedDraft{}, ErrEmptyDraft
	}
	if subject == "" {
		subject = "Untitled draft"
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	at := d.now()
	id := at.UnixMilli()
	if len(d.data.Saved) > 0 {
		if prev, err := strconv.ParseInt(strings.TrimPrefix(d.data.Saved[0].ID, "draft_"), 10, 64); err == nil && id <= prev {
			id = prev + 1
		}
	}
	sd := SavedDraft{
		ID:        "draft_" + strconv.FormatInt(id, 10),
		AgentKey:  agent,
		Subject:   subject,
		Body:      body,
		UpdatedAt: at,
	}
	saved := append([]SavedDraft{sd}, d.data.Saved...)
	if len(saved) > MaxSavedDrafts {
		saved = saved[:MaxSavedDrafts]
	}
	d.data.Saved = saved
	return sd, d.flushLocked()
}

// Saved lists saved drafts newest first, limited to agent unless it is empty.
func (d *Drafts) Saved(agent string) []SavedDraft {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SavedDraft, 0, len(d.data.Saved))
	for _, sd := range d.data.Saved {
		if agent == "" || sd.AgentKey == agent {
			out = append(out, sd)
		}
	}
	return out
}

func (d *Drafts) flushLocked() error {
	raw, err := json.MarshalIndent(d.data, "", "  ")
	if err != nil {
		return fmt.Errorf("inbox: encode drafts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return fmt.Errorf("inbox: create drafts dir: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("inbox: write drafts: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("inbox: replace drafts: %w", err)
	}
	return nil
}
