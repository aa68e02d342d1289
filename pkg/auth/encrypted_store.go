package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore implements CredentialStore using an AES-GCM encrypted
// file; the key is derived from a passphrase with PBKDF2.
type EncryptedFileStore struct {
	filepath   string
	passphrase string
	mu         sync.RWMutex
}

type encryptedFile struct {
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
}

// NewEncryptedFileStore creates a new encrypted file-based credential store
func NewEncryptedFileStore(filePath string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return &EncryptedFileStore{
		filepath:   filePath,
		passphrase: passphrase(),
	}, nil
}

// passphrase returns the encryption passphrase: YALJE_CREDENTIAL_KEY if set,
// otherwise one derived from the local user identity.
func passphrase() string {
	if key := os.Getenv("YALJE_CREDENTIAL_KEY"); key != "" {
		return key
	}

	hostname, _ := os.Hostname()
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return fmt.Sprintf("yalje-%s-%s", hostname, username)
}

// Store saves credentials to the encrypted file
func (s *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.loadAccounts()
	if err != nil {
		return err
	}

	accounts[account.Username] = *account
	return s.saveAccounts(accounts)
}

// Retrieve gets credentials from the encrypted file
func (s *EncryptedFileStore) Retrieve(username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts, err := s.loadAccounts()
	if err != nil {
		return nil, err
	}

	account, ok := accounts[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

// Delete removes credentials from the encrypted file
func (s *EncryptedFileStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.loadAccounts()
	if err != nil {
		return err
	}

	if _, ok := accounts[username]; !ok {
		return ErrAccountNotFound
	}

	delete(accounts, username)
	return s.saveAccounts(accounts)
}

// Exists checks if credentials exist in the encrypted file
func (s *EncryptedFileStore) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts, err := s.loadAccounts()
	if err != nil {
		return false
	}
	_, ok := accounts[username]
	return ok
}

// loadAccounts reads and decrypts the account map; a missing file yields an
// empty map.
func (s *EncryptedFileStore) loadAccounts() (map[string]Account, error) {
	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Account), nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var ef encryptedFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(ef.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ef.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	plaintext, err := s.decrypt(ciphertext, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var accounts map[string]Account
	if err := json.Unmarshal(plaintext, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}
	return accounts, nil
}

// saveAccounts encrypts and writes the account map
func (s *EncryptedFileStore) saveAccounts(accounts map[string]Account) error {
	plaintext, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	ciphertext, err := s.encrypt(plaintext, salt)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	ef := encryptedFile{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(ciphertext),
	}

	data, err := json.Marshal(&ef)
	if err != nil {
		return fmt.Errorf("failed to marshal credential file: %w", err)
	}

	if err := os.WriteFile(s.filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func (s *EncryptedFileStore) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(s.passphrase), salt, iterations, keySize, sha256.New)
}

func (s *EncryptedFileStore) encrypt(plaintext, salt []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedFileStore) decrypt(ciphertext, salt []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
