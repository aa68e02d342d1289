package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/johnwbyrd/yalje/pkg/logger"
	"github.com/johnwbyrd/yalje/pkg/models"
)

// Checkpoint captures the state of an interrupted export run: the resumption
// cursor of each pipeline plus the raw records already fetched, so a later
// run can pick up without re-fetching.
type Checkpoint struct {
	Account string `json:"account"`

	// Posts pipeline: next month still to fetch (zero when finished)
	NextYear  int  `json:"next_year"`
	NextMonth int  `json:"next_month"`
	EndYear   int  `json:"end_year"`
	EndMonth  int  `json:"end_month"`
	PostsDone bool `json:"posts_done"`

	// Comments pipeline
	CommentCursor int  `json:"comment_cursor"`
	CommentMaxID  int  `json:"comment_max_id"`
	CommentsDone  bool `json:"comments_done"`

	// Inbox pipeline: folder currently being fetched and next page within it
	InboxFolder string `json:"inbox_folder"`
	InboxPage   int    `json:"inbox_page"`
	InboxDone   bool   `json:"inbox_done"`

	// Accumulated partial results
	Posts    []models.RawPost      `json:"posts"`
	Comments []models.RawComment   `json:"comments"`
	Users    map[int]string        `json:"users"`
	Inbox    []models.InboxMessage `json:"inbox"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Manager handles checkpoint persistence for one account
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a checkpoint manager for the given account
func NewManager(account string) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}

	checkpointsDir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(checkpointsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return &Manager{
		checkpointPath: filepath.Join(checkpointsDir, fmt.Sprintf("%s.checkpoint.json", account)),
		logger:         logger.GetLogger(),
	}, nil
}

// NewManagerWithPath creates a manager that persists to an explicit path
func NewManagerWithPath(path string) *Manager {
	return &Manager{
		checkpointPath: path,
		logger:         logger.GetLogger(),
	}
}

// Create creates and persists a fresh checkpoint
func (m *Manager) Create(account string) (*Checkpoint, error) {
	cp := &Checkpoint{
		Account:   account,
		Users:     make(map[int]string),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Version:   1,
	}

	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("checkpoint created", map[string]interface{}{
		"account": account,
		"path":    m.checkpointPath,
	})

	return cp, nil
}

// Load loads an existing checkpoint; returns (nil, nil) when none exists
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Users == nil {
		cp.Users = make(map[int]string)
	}

	m.logger.InfoWithFields("checkpoint loaded", map[string]interface{}{
		"account":        cp.Account,
		"posts":          len(cp.Posts),
		"comments":       len(cp.Comments),
		"inbox":          len(cp.Inbox),
		"comment_cursor": cp.CommentCursor,
		"updated_at":     cp.UpdatedAt,
	})

	return &cp, nil
}

// Save persists the checkpoint to disk atomically
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "yalje")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "yalje")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "yalje")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "yalje")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
