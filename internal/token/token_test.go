package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/settings"
)

type fixedConfig struct {
	snap settings.Snapshot
}

func (f fixedConfig) Load(context.Context) (settings.Snapshot, error) {
	return f.snap, nil
}

// memoryStore mirrors the transactional contract of the Postgres store:
// reuse the current valid token, mint otherwise, expire everything on force.
type memoryStore struct {
	active map[string]bool
	tokens []Token
}

func newMemoryStore() *memoryStore {
	return &memoryStore{active: map[string]bool{}}
}

func (m *memoryStore) Issue(_ context.Context, sessionID string, force bool, candidate Token) (Token, error) {
	if !m.active[sessionID] {
		return Token{}, ErrSessionInactive
	}
	now := time.Now().UTC()
	if force {
		for i := range m.tokens {
			if m.tokens[i].SessionID == sessionID && m.tokens[i].Valid(now) {
				m.tokens[i].ExpiresAt = now
			}
		}
	} else {
		for i := len(m.tokens) - 1; i >= 0; i-- {
			if m.tokens[i].SessionID == sessionID && m.tokens[i].Valid(now) {
				return m.tokens[i], nil
			}
		}
	}
	candidate.ID = uuid.NewString()
	m.tokens = append(m.tokens, candidate)
	return candidate, nil
}

func (m *memoryStore) FindByCode(_ context.Context, code string) (*Token, error) {
	for i := len(m.tokens) - 1; i >= 0; i-- {
		if m.tokens[i].Code == code {
			tok := m.tokens[i]
			return &tok, nil
		}
	}
	return nil, nil
}

func testIssuer(store Store) *Issuer {
	return NewIssuer(store, fixedConfig{snap: settings.Snapshot{TokenTTL: 3 * time.Minute}})
}

func TestIssueReusesCurrentToken(t *testing.T) {
	store := newMemoryStore()
	store.active["s1"] = true
	issuer := testIssuer(store)

	first, err := issuer.Issue(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Len(t, first.Code, CodeLength)
	assert.WithinDuration(t, time.Now().Add(3*time.Minute), first.ExpiresAt, 2*time.Second)

	second, err := issuer.Issue(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Code, second.Code)
}

func TestIssueForceRotates(t *testing.T) {
	store := newMemoryStore()
	store.active["s1"] = true
	issuer := testIssuer(store)

	first, err := issuer.Issue(context.Background(), "s1", false)
	require.NoError(t, err)

	rotated, err := issuer.Issue(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, rotated.Code)

	// The old code stays resolvable but is no longer valid.
	old, err := issuer.Lookup(context.Background(), first.Code)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.Valid(time.Now().UTC()))
}

func TestIssueInactiveSession(t *testing.T) {
	issuer := testIssuer(newMemoryStore())
	_, err := issuer.Issue(context.Background(), "s1", false)
	assert.ErrorIs(t, err, ErrSessionInactive)
}

func TestIssueMintsAfterExpiry(t *testing.T) {
	store := newMemoryStore()
	store.active["s1"] = true
	issuer := testIssuer(store)

	first, err := issuer.Issue(context.Background(), "s1", false)
	require.NoError(t, err)

	// Expire it in place.
	for i := range store.tokens {
		store.tokens[i].ExpiresAt = time.Now().Add(-time.Second)
	}

	next, err := issuer.Issue(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestLookupUnknownCode(t *testing.T) {
	issuer := testIssuer(newMemoryStore())
	tok, err := issuer.Lookup(context.Background(), "NOPE1234")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(CodeLength)
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = true
	}
	// 36^8 codes; 50 draws colliding would point at a broken generator.
	assert.Greater(t, len(seen), 45)
}

func TestTokenValid(t *testing.T) {
	now := time.Now()
	assert.True(t, Token{ExpiresAt: now.Add(time.Second)}.Valid(now))
	assert.False(t, Token{ExpiresAt: now}.Valid(now))
	assert.False(t, Token{ExpiresAt: now.Add(-time.Second)}.Valid(now))
}
