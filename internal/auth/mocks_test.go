// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/placepulse/placepulse/internal/auth"
)

// Stateful in-memory fakes. The service flows under test span several
// calls (issue then redeem, fail five times then check), so the fakes
// keep real state instead of scripted expectations.

type memUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[ulid.ULID]*auth.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return auth.ErrDuplicateIdentity
		}
	}
	u := *user
	r.users[user.ID] = &u
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u := *user
	return &u, nil
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Username, username) {
			u := *user
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			u := *user
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (r *memUserRepo) SetActive(_ context.Context, id ulid.ULID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.Active = active
	return nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.SecretToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[ulid.ULID]*auth.SecretToken)}
}

func (r *memTokenRepo) Create(_ context.Context, token *auth.SecretToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := *token
	r.tokens[token.ID] = &t
	return nil
}

func (r *memTokenRepo) GetByHash(_ context.Context, purpose auth.TokenPurpose, tokenHash string) (*auth.SecretToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.Purpose == purpose && token.TokenHash == tokenHash {
			t := *token
			return &t, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memTokenRepo) MarkUsed(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || token.Used {
		return auth.ErrTokenUsed
	}
	token.Used = true
	return nil
}

func (r *memTokenRepo) InvalidateActive(_ context.Context, userID ulid.ULID, purpose auth.TokenPurpose, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, token := range r.tokens {
		if token.UserID == userID && token.Purpose == purpose && !token.Used && token.ExpiresAt.After(now) {
			token.Used = true
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, token := range r.tokens {
		if token.ExpiresAt.Before(cutoff) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) countForUser(userID ulid.ULID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, token := range r.tokens {
		if token.UserID == userID {
			n++
		}
	}
	return n
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*auth.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.SessionKey]; exists {
		return auth.ErrDuplicateSessionKey
	}
	s := *session
	r.sessions[session.SessionKey] = &s
	return nil
}

func (r *memSessionRepo) GetByKey(_ context.Context, sessionKey string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionKey]
	if !ok {
		return nil, auth.ErrNotFound
	}
	s := *session
	return &s, nil
}

func (r *memSessionRepo) ListActiveByUser(_ context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auth.Session
	for _, session := range r.sessions {
		if session.UserID == userID && session.Active {
			s := *session
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (r *memSessionRepo) Close(_ context.Context, sessionKey string, userID ulid.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionKey]
	if !ok || session.UserID != userID || !session.Active {
		return 0, nil
	}
	session.Active = false
	return 1, nil
}

func (r *memSessionRepo) CloseAll(_ context.Context, userID ulid.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, session := range r.sessions {
		if session.UserID == userID && session.Active {
			session.Active = false
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) Touch(_ context.Context, sessionKey string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionKey]; ok && session.Active {
		session.LastSeenAt = at
	}
	return nil
}

func (r *memSessionRepo) DeleteRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, session := range r.sessions {
		if !session.Active && session.LastSeenAt.Before(cutoff) {
			delete(r.sessions, key)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) countAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type memAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]*auth.LoginAttempt
}

func newMemAttemptRepo() *memAttemptRepo {
	return &memAttemptRepo{attempts: make(map[string]*auth.LoginAttempt)}
}

func (r *memAttemptRepo) Get(_ context.Context, identifier string) (*auth.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.attempts[identifier]
	if !ok {
		return nil, auth.ErrNotFound
	}
	a := *attempt
	return &a, nil
}

func (r *memAttemptRepo) Upsert(_ context.Context, attempt *auth.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := *attempt
	r.attempts[attempt.Identifier] = &a
	return nil
}

func (r *memAttemptRepo) DeleteIdle(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, attempt := range r.attempts {
		locked := attempt.LockedUntil != nil && attempt.LockedUntil.After(cutoff)
		if attempt.LastAttemptAt.Before(cutoff) && !locked {
			delete(r.attempts, id)
			n++
		}
	}
	return n, nil
}

// testClock is a mutable clock shared by the fixtures.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// captureNotifier records delivered mail. The first failRemaining sends
// report failure.
type captureNotifier struct {
	mu            sync.Mutex
	mails         []sentMail
	failRemaining int
}

func (n *captureNotifier) Send(_ context.Context, to, subject, body string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failRemaining > 0 {
		n.failRemaining--
		return false
	}
	n.mails = append(n.mails, sentMail{To: to, Subject: subject, Body: body})
	return true
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mails)
}

func (n *captureNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.mails, "expected at least one mail")
	return n.mails[len(n.mails)-1]
}

// secretFromMail extracts the raw secret from a token link in a mail
// body.
func secretFromMail(t *testing.T, body string) string {
	t.Helper()
	_, after, found := strings.Cut(body, "token=")
	require.True(t, found, "mail body carries no token link")
	secret, _, _ := strings.Cut(after, "\n")
	return strings.TrimSpace(secret)
}

// plainHasher is a fast deterministic PasswordHasher for flow tests.
// Argon2id is covered by its own tests.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (plainHasher) Verify(password, hash string) (bool, error) {
	return hash == "hashed:"+password, nil
}

const testMintSecret = "0123456789abcdef0123456789abcdef"

// fixture wires a full Service over the in-memory fakes.
type fixture struct {
	svc      *auth.Service
	users    *memUserRepo
	tokens   *memTokenRepo
	sessions *memSessionRepo
	attempts *memAttemptRepo
	notifier *captureNotifier
	clock    *testClock
	mint     *auth.TokenMint
	limiter  *auth.RateLimiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		users:    newMemUserRepo(),
		tokens:   newMemTokenRepo(),
		sessions: newMemSessionRepo(),
		attempts: newMemAttemptRepo(),
		notifier: &captureNotifier{},
		clock:    newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	tx := auth.PassthroughTransactor{}

	tokens, err := auth.NewSecretTokenService(f.tokens, tx, f.clock.Now, nil)
	require.NoError(t, err)
	sessions, err := auth.NewSessionRegistry(f.sessions, f.clock.Now, nil)
	require.NoError(t, err)
	f.limiter, err = auth.NewRateLimiter(f.attempts, tx, auth.DefaultRateLimitPolicy(), f.clock.Now, nil)
	require.NoError(t, err)
	f.mint, err = auth.NewTokenMint(testMintSecret, "placepulse-test", auth.WithMintClock(f.clock.Now))
	require.NoError(t, err)

	f.svc, err = auth.NewService(auth.ServiceDeps{
		Users:    f.users,
		Tokens:   tokens,
		Sessions: sessions,
		Limiter:  f.limiter,
		Hasher:   plainHasher{},
		Mint:     f.mint,
		Notifier: f.notifier,
		Tx:       tx,
		BaseURL:  "https://app.placepulse.test",
		Clock:    f.clock.Now,
	})
	require.NoError(t, err)

	return f
}

// register creates and verifies an account ready for login.
func (f *fixture) register(t *testing.T, username, email, password string) *auth.User {
	t.Helper()
	ctx := context.Background()

	_, err := f.svc.Register(ctx, username, email, password, "198.51.100.7")
	require.NoError(t, err)

	secret := secretFromMail(t, f.notifier.last(t).Body)
	verified, err := f.svc.VerifyEmail(ctx, secret)
	require.NoError(t, err)
	require.True(t, verified.Active)

	return verified
}

func (f *fixture) login(t *testing.T, username, password string) *auth.Credentials {
	t.Helper()
	creds, err := f.svc.Login(context.Background(), auth.LoginInput{
		Username:   username,
		Password:   password,
		DeviceName: "laptop",
		UserAgent:  "go-test/1.0",
		IPAddress:  "198.51.100.7",
	})
	require.NoError(t, err)
	return creds
}
