package auth

import "os"

// EnvironmentStore implements CredentialStore on top of YALJE_USERNAME and
// YALJE_PASSWORD. It is read-only and always the last fallback in the chain.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve reads credentials from the environment; the username must match
// YALJE_USERNAME (or be empty, meaning "whatever is configured").
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	envUser := os.Getenv("YALJE_USERNAME")
	envPass := os.Getenv("YALJE_PASSWORD")

	if envUser == "" || envPass == "" {
		return nil, ErrAccountNotFound
	}
	if username != "" && username != envUser {
		return nil, ErrAccountNotFound
	}

	return &Account{Username: envUser, Password: envPass}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

// Exists checks whether the environment carries matching credentials
func (e *EnvironmentStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}
