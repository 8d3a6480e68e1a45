// Package session holds the participant context every stream depends on:
// who the data belongs to and the server-issued RSA public key that makes
// the data decryptable.
package session

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
)

// Session is safe for concurrent use.
type Session struct {
	participantID string
	publicKey     *rsa.PublicKey

	mu           sync.RWMutex
	passwordHash string
}

// New validates the participant context. A missing participant id or key is
// an upstream programming error. The id becomes part of every file name, so
// it must not contain path separators or be a relative path element.
func New(participantID string, publicKey *rsa.PublicKey) (*Session, error) {
	if participantID == "" {
		return nil, fmt.Errorf("new session: %w", common.ErrNoSession)
	}
	if strings.ContainsAny(participantID, `/\`) || participantID == "." || participantID == ".." {
		return nil, fmt.Errorf("new session: %q: %w", participantID, common.ErrBadParticipant)
	}
	if publicKey == nil {
		return nil, fmt.Errorf("new session: %w", common.ErrNoPublicKey)
	}
	return &Session{participantID: participantID, publicKey: publicKey}, nil
}

func (s *Session) ParticipantID() string {
	return s.participantID
}

func (s *Session) PublicKey() *rsa.PublicKey {
	return s.publicKey
}

// SetPassword stores only the transport hash of password.
func (s *Session) SetPassword(password string) {
	h := cryptox.HashPasswordForTransport(password)
	s.mu.Lock()
	s.passwordHash = h
	s.mu.Unlock()
}

// Password always returns an empty string; the plaintext is never kept.
func (s *Session) Password() string {
	return ""
}

// PasswordHash returns base64url(sha256(password)) as last set, or "".
func (s *Session) PasswordHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passwordHash
}
