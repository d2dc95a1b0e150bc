// Package session holds the client-side Session Store: the authenticated
// identity of one application root, its persisted credential and the
// navigation side effects of login and logout.
package session

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/escra-platform/portal/internal/model"
)

// DefaultTTL is the credential lifetime used when the issuer reports none.
const DefaultTTL = 7 * 24 * time.Hour

// Navigator performs the navigation side effects of the store and the gate.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

func (f NavigatorFunc) Navigate(target string) { f(target) }

// State is a snapshot of a Store.
type State struct {
	Session *model.Session
	Loading bool
	Err     error
}

// IsAuthenticated reports whether a session with an unexpired token is held.
func (s State) IsAuthenticated(now time.Time) bool {
	return s.Session.Valid(now)
}

// Options configures a Store.
type Options struct {
	TTL         time.Duration
	LandingPath string
	LoginPath   string
}

// Store owns one Session. It is created by the application root and passed
// to everything that reads or changes authentication state.
type Store struct {
	auth  Authenticator
	creds CredentialStore
	nav   Navigator
	opts  Options
	now   func() time.Time

	mu      sync.Mutex
	state   State
	closed  bool
	subs    map[int]func(State)
	nextSub int
}

// NewStore creates a store in the loading state. Call Init to resolve it.
func NewStore(auth Authenticator, creds CredentialStore, nav Navigator, opts Options) *Store {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LandingPath == "" {
		opts.LandingPath = "/dashboard"
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	return &Store{
		auth:  auth,
		creds: creds,
		nav:   nav,
		opts:  opts,
		now:   time.Now,
		state: State{Loading: true},
		subs:  make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the held session when it is still valid.
func (s *Store) Session() *model.Session {
	st := s.State()
	if !st.IsAuthenticated(s.now()) {
		return nil
	}
	return st.Session
}

// IsAuthenticated reports whether a valid session is held.
func (s *Store) IsAuthenticated() bool {
	return s.State().IsAuthenticated(s.now())
}

// Subscribe registers fn for state changes and returns a function that
// removes it. fn is called outside the store lock.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close deactivates the store. Operations that resolve afterwards leave the
// state untouched and return model.ErrInactive.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.subs = make(map[int]func(State))
	s.mu.Unlock()
}

// commit applies mutate when the store is still active and ctx is live,
// then notifies subscribers.
func (s *Store) commit(ctx context.Context, mutate func(*State)) error {
	s.mu.Lock()
	if s.closed || ctx.Err() != nil {
		s.mu.Unlock()
		return model.ErrInactive
	}
	s.mu.Unlock()
	s.publish(mutate)
	return nil
}

func (s *Store) publish(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	st := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func (s *Store) active(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && ctx.Err() == nil
}

// Init resolves the loading state from the persisted credential. A
// persisted token is verified with the issuer before the session is
// accepted; a rejected token is cleared.
func (s *Store) Init(ctx context.Context) error {
	cred, err := s.creds.Load(ctx)
	if err != nil {
		log.Printf("Failed to load credential: %v", err)
		cred = nil
	}

	if cred == nil || cred.Token == "" {
		return s.commit(ctx, func(st *State) {
			*st = State{}
		})
	}

	if cred.Expired(s.now()) {
		s.clearCredential(ctx)
		return s.commit(ctx, func(st *State) {
			*st = State{}
		})
	}

	sess, err := s.auth.Verify(ctx, cred.Token)
	if !s.active(ctx) {
		return model.ErrInactive
	}
	if err != nil {
		if !errors.Is(err, model.ErrNetworkFailure) {
			if !errors.Is(err, model.ErrInvalidToken) {
				err = model.NewAuthError(model.AuthInvalidToken, err)
			}
			s.clearCredential(ctx)
		}
		if cerr := s.commit(ctx, func(st *State) {
			*st = State{Err: err}
		}); cerr != nil {
			return cerr
		}
		return err
	}

	if sess.ExpiresAt == nil && !cred.ExpiresAt.IsZero() {
		exp := cred.ExpiresAt
		sess.ExpiresAt = &exp
	}
	return s.commit(ctx, func(st *State) {
		*st = State{Session: sess}
	})
}

// Login authenticates with the issuer, persists the token and navigates to
// the landing page.
func (s *Store) Login(ctx context.Context, email, password string) (*model.Session, error) {
	return s.LoginWithRedirect(ctx, email, password, "")
}

// LoginWithRedirect is Login followed by navigation to redirect when it is
// a local path, or to the landing page otherwise.
func (s *Store) LoginWithRedirect(ctx context.Context, email, password, redirect string) (*model.Session, error) {
	sess, err := s.auth.Login(ctx, email, password)
	if !s.active(ctx) {
		return nil, model.ErrInactive
	}
	if err != nil {
		var authErr *model.AuthError
		if !errors.As(err, &authErr) {
			err = model.NewAuthError(model.AuthNetworkFailure, err)
		}
		return nil, err
	}

	if sess.ExpiresAt == nil {
		exp := s.now().Add(s.opts.TTL)
		sess.ExpiresAt = &exp
	}
	if err := s.creds.Save(ctx, &Credential{Token: sess.Token, ExpiresAt: *sess.ExpiresAt, Email: sess.Email}); err != nil {
		return nil, model.NewAuthError(model.AuthNetworkFailure, err)
	}

	if err := s.commit(ctx, func(st *State) {
		*st = State{Session: sess}
	}); err != nil {
		return nil, err
	}

	s.nav.Navigate(LocalTarget(redirect, s.opts.LandingPath))
	return sess, nil
}

// Logout clears the persisted token and the session, notifies the issuer
// and navigates to the login page. It never fails.
func (s *Store) Logout(ctx context.Context) {
	st := s.State()
	token := ""
	if st.Session != nil {
		token = st.Session.Token
	}
	if token == "" {
		if cred, err := s.creds.Load(ctx); err == nil && cred != nil {
			token = cred.Token
		}
	}

	s.clearCredential(ctx)
	s.publish(func(st *State) {
		*st = State{}
	})

	if token != "" {
		if err := s.auth.Logout(ctx, token); err != nil {
			log.Printf("Failed to notify issuer of logout: %v", err)
		}
	}
	if s.active(ctx) {
		s.nav.Navigate(s.opts.LoginPath)
	}
}

func (s *Store) clearCredential(ctx context.Context) {
	if err := s.creds.Clear(ctx); err != nil {
		log.Printf("Failed to clear credential: %v", err)
	}
}

// LocalTarget returns target when it is a same-origin absolute path and
// fallback otherwise.
func LocalTarget(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}
