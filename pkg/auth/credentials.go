package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Account represents a LiveJournal account's stored credentials, optionally
// including the session cookies from the last successful login so a later
// run can skip the handshake.
type Account struct {
	Username     string            `json:"username"`
	Password     string            `json:"password"`
	Cookies      map[string]string `json:"cookies,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
)

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific username
	Retrieve(username string) (*Account, error)

	// Delete removes credentials for a specific username
	Delete(username string) error

	// Exists checks if credentials exist for a username
	Exists(username string) bool
}

// Manager handles credential storage with fallback mechanisms: system
// keyring first, then an encrypted file, then environment variables.
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a new credential manager with appropriate storage backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err == nil {
		stores = append(stores, encryptedStore)
	}

	stores = append(stores, NewEnvironmentStore())

	if len(stores) == 0 {
		return nil, ErrStoreUnavailable
	}

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager backed by explicit stores (tests)
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves credentials to the first store that accepts them
func (m *Manager) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all credential stores failed: %w", lastErr)
}

// Retrieve finds credentials for a username, trying each store in order
func (m *Manager) Retrieve(username string) (*Account, error) {
	for _, store := range m.stores {
		account, err := store.Retrieve(username)
		if err == nil && account != nil {
			return account, nil
		}
	}
	return nil, ErrAccountNotFound
}

// Delete removes credentials from every store that has them
func (m *Manager) Delete(username string) error {
	deleted := false
	for _, store := range m.stores {
		if store.Exists(username) {
			if err := store.Delete(username); err == nil {
				deleted = true
			}
		}
	}
	if !deleted {
		return ErrAccountNotFound
	}
	return nil
}

// Exists checks if any store has credentials for the username
func (m *Manager) Exists(username string) bool {
	for _, store := range m.stores {
		if store.Exists(username) {
			return true
		}
	}
	return false
}

// getConfigDir returns the configuration directory for the current OS
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "yalje")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "yalje")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "yalje")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "yalje")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}
