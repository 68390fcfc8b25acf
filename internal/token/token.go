package token

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"checkin/internal/settings"
)

// CodeLength is the fixed length of issued check-in codes.
const CodeLength = 8

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrSessionInactive means tokens cannot be issued because the session is
// not the active one.
var ErrSessionInactive = errors.New("session is not active")

// Token is a short-lived check-in code bound to a session. The client
// renders Code as a QR image and re-requests at expiry.
type Token struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the token is usable at the given instant.
func (t Token) Valid(now time.Time) bool {
	return t.ExpiresAt.After(now)
}

// Store persists tokens. Issue must run as one transaction: concurrent
// callers must not both observe "no valid token" and each mint one.
type Store interface {
	// Issue returns the currently valid token for the session or records the
	// candidate as the new current one. force first expires every valid
	// token. Fails ErrSessionInactive when the session is not active.
	Issue(ctx context.Context, sessionID string, force bool, candidate Token) (Token, error)
	// FindByCode returns the newest token with this code, nil when unknown.
	FindByCode(ctx context.Context, code string) (*Token, error)
}

// Config supplies the settings snapshot; satisfied by settings.Store.
type Config interface {
	Load(ctx context.Context) (settings.Snapshot, error)
}

// Issuer mints and rotates session check-in codes.
type Issuer struct {
	store Store
	cfg   Config
}

// NewIssuer creates an issuer.
func NewIssuer(store Store, cfg Config) *Issuer {
	return &Issuer{store: store, cfg: cfg}
}

// Issue returns the current token for the session, minting a fresh one when
// none is valid. With force, all outstanding codes are expired immediately
// and a new one is minted.
func (i *Issuer) Issue(ctx context.Context, sessionID string, force bool) (Token, error) {
	snap, err := i.cfg.Load(ctx)
	if err != nil {
		return Token{}, err
	}
	code, err := GenerateCode(CodeLength)
	if err != nil {
		return Token{}, err
	}
	now := time.Now().UTC()
	candidate := Token{
		SessionID: sessionID,
		Code:      code,
		ExpiresAt: now.Add(snap.TokenTTL),
		CreatedAt: now,
	}
	return i.store.Issue(ctx, sessionID, force, candidate)
}

// Lookup resolves a presented code, nil when unknown.
func (i *Issuer) Lookup(ctx context.Context, code string) (*Token, error) {
	return i.store.FindByCode(ctx, code)
}

// GenerateCode returns a random uppercase alphanumeric code of length n.
func GenerateCode(n int) (string, error) {
	if n <= 0 {
		n = CodeLength
	}
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
