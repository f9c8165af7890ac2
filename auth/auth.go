// Package auth is the identity provider. It owns sign-up, sign-in and
// session verification; the rest of the application consumes it once at
// bootstrap to gate the chat client behind a valid session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"example.com/playchat/models"
	"example.com/playchat/store"
)

const (
	// SignedIn fires when a session is established.
	SignedIn AuthEventType = "SIGNED_IN"
	// SignedOut fires when a session ends.
	SignedOut AuthEventType = "SIGNED_OUT"
)

type AuthEventType = string

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Session identifies an authenticated user.
type Session struct {
	UserID   string
	Username string
}

// AuthEvent describes a change in authentication state. Session is nil for
// SignedOut events.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// Identity is the external identity provider contract.
type Identity interface {
	SignUp(ctx context.Context, username, password string) (*models.Profile, error)
	SignIn(ctx context.Context, username, password string) (token string, exp time.Time, err error)
	// Session verifies the token and returns the session it carries.
	// It returns ErrUnauthenticated if the token is expired or invalid.
	Session(ctx context.Context, token string) (*Session, error)
	SignOut(ctx context.Context, token string) error
	// OnAuthStateChange registers a callback fired on sign-in and sign-out.
	// It returns a function that removes the callback.
	OnAuthStateChange(fn func(AuthEvent)) (remove func())
}

// StoreIdentity implements Identity against the profiles collection with
// bcrypt password hashes and signed JWT session tokens.
type StoreIdentity struct {
	store        store.Store
	tokenOptions TokenOptions

	mu        sync.Mutex
	callbacks map[int]func(AuthEvent)
	nextID    int
}

func NewStoreIdentity(s store.Store, tokenOptions TokenOptions) *StoreIdentity {
	return &StoreIdentity{
		store:        s,
		tokenOptions: tokenOptions,
		callbacks:    make(map[int]func(AuthEvent)),
	}
}

func (a *StoreIdentity) SignUp(ctx context.Context, username, password string) (*models.Profile, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	profile := models.Profile{Username: username}
	if err := a.store.CreateProfile(ctx, profile, string(hashed)); err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}

	created, err := a.store.ProfileByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	return created, nil
}

func (a *StoreIdentity) SignIn(ctx context.Context, username, password string) (token string, exp time.Time, err error) {
	hash, err := a.store.ProfilePassword(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrInvalidProfile) {
			return "", exp, ErrBadCredentials
		}
		return "", exp, fmt.Errorf("loading password: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", exp, ErrBadCredentials
	}

	profile, err := a.store.ProfileByUsername(ctx, username)
	if err != nil {
		return "", exp, fmt.Errorf("loading profile: %w", err)
	}
	if profile == nil {
		return "", exp, ErrBadCredentials
	}

	token, exp, err = createToken(profile.ID, profile.Username, a.tokenOptions)
	if err != nil {
		return "", exp, fmt.Errorf("creating token: %w", err)
	}

	a.fire(AuthEvent{Type: SignedIn, Session: &Session{UserID: profile.ID, Username: profile.Username}})

	return token, exp, nil
}

func (a *StoreIdentity) Session(ctx context.Context, token string) (*Session, error) {
	claims, err := verifyToken(token, a.tokenOptions)
	if err != nil {
		if errors.Is(err, errTokenExpired) || errors.Is(err, errTokenInvalid) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	return &Session{UserID: claims.UserID, Username: claims.Username}, nil
}

func (a *StoreIdentity) SignOut(ctx context.Context, token string) error {
	if _, err := a.Session(ctx, token); err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}

	a.fire(AuthEvent{Type: SignedOut})
	return nil
}

func (a *StoreIdentity) OnAuthStateChange(fn func(AuthEvent)) (remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	a.callbacks[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.callbacks, id)
	}
}

func (a *StoreIdentity) fire(event AuthEvent) {
	a.mu.Lock()
	callbacks := make([]func(AuthEvent), 0, len(a.callbacks))
	for _, fn := range a.callbacks {
		callbacks = append(callbacks, fn)
	}
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(event)
	}
}
