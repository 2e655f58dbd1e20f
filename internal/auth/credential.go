package auth

import (
	"time"

	"github.com/tonimelisma/paperfs/internal/tokenfile"
)

// Credential is one OAuth2 grant. An empty RefreshToken or a zero
// ExpiresAt means the field is absent. AccessToken is held in memory only.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Store persists the refresh token and expiry of a credential. Load returns
// (nil, nil) when nothing has been stored.
type Store interface {
	Load() (*Credential, error)
	Save(Credential) error
}

// FileStore keeps the credential in a tokenfile at Path.
type FileStore struct {
	Path string
}

// Load implements Store.
func (s FileStore) Load() (*Credential, error) {
	st, err := tokenfile.Load(s.Path)
	if err != nil || st == nil {
		return nil, err
	}

	return &Credential{RefreshToken: st.RefreshToken, ExpiresAt: st.ExpiresAt}, nil
}

// Save implements Store. The access token is dropped.
func (s FileStore) Save(c Credential) error {
	return tokenfile.Save(s.Path, tokenfile.State{RefreshToken: c.RefreshToken, ExpiresAt: c.ExpiresAt})
}
