package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"plantops.org/internal/auth"
	"plantops.org/internal/obs"
)

// State describes where the guard is in the credential lifecycle.
type State string

const (
	// StateLoggedOut means no credential is held.
	StateLoggedOut State = "logged_out"
	// StateAuthenticating means a credential is held but the identity is
	// not resolved yet (resolution in flight or failed).
	StateAuthenticating State = "authenticating"
	// StateAuthenticated means the credential resolved to an identity.
	StateAuthenticated State = "authenticated"
)

// ErrNoCredential indicates a resolution was requested without a credential.
var ErrNoCredential = errors.New("session: no credential")

// IdentityResolver maps a bearer credential to the identity it represents.
// The upstream identity endpoint and auth.Service both satisfy this.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (auth.Identity, error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(ctx context.Context, credential string) (auth.Identity, error)

func (f ResolverFunc) Resolve(ctx context.Context, credential string) (auth.Identity, error) {
	return f(ctx, credential)
}

// Guard owns the process-wide credential, resolves it to an identity and
// answers capability queries. It replaces the ambient auth globals of the
// dashboard with an explicit object handed to every consumer.
//
// Resolutions are tagged with a generation number taken while holding the
// lock: a resolution that completes after the credential changed again is
// discarded, so the stored identity always matches the newest credential
// regardless of response latency ordering.
type Guard struct {
	mu         sync.Mutex
	resolver   IdentityResolver
	credential string
	identity   *auth.Identity
	generation uint64
	settled    chan struct{}

	resolveTimeout time.Duration
}

// Option configures Guard behavior.
type Option func(*Guard)

// WithResolveTimeout bounds how long a single identity resolution may take.
func WithResolveTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.resolveTimeout = d
		}
	}
}

// NewGuard constructs a logged-out guard.
func NewGuard(resolver IdentityResolver, opts ...Option) *Guard {
	g := &Guard{
		resolver:       resolver,
		settled:        closedChan(),
		resolveTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetCredential stores the token, marks the identity unresolved and starts
// resolution in the background. The token format is not validated; validity
// is determined only by whether resolution succeeds.
func (g *Guard) SetCredential(ctx context.Context, token string) {
	g.mu.Lock()
	g.credential = token
	g.identity = nil
	g.generation++
	gen := g.generation
	settled := make(chan struct{})
	g.settled = settled
	g.mu.Unlock()

	go g.resolve(context.WithoutCancel(ctx), token, gen, settled)
}

// ClearCredential drops the credential and identity. Idempotent; covers
// both deliberate logout and the forced self-invalidation after the
// authenticated user changes their password.
func (g *Guard) ClearCredential() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.credential = ""
	g.identity = nil
	g.generation++
	g.settled = closedChan()
}

// Refresh re-resolves the current credential, if any. Used when a caller
// knows the identity record may have changed (profile update, role change).
func (g *Guard) Refresh(ctx context.Context) error {
	g.mu.Lock()
	if g.credential == "" {
		g.mu.Unlock()
		return ErrNoCredential
	}
	token := g.credential
	g.identity = nil
	g.generation++
	gen := g.generation
	settled := make(chan struct{})
	g.settled = settled
	g.mu.Unlock()

	go g.resolve(context.WithoutCancel(ctx), token, gen, settled)
	return nil
}

// resolve performs one identity fetch and applies the result only if no
// newer credential change superseded it. A failed resolution leaves the
// credential in place: credentials are dropped only on deliberate logout,
// never as a side effect of a flaky identity fetch.
func (g *Guard) resolve(ctx context.Context, token string, gen uint64, settled chan struct{}) {
	defer close(settled)

	ctx, cancel := context.WithTimeout(ctx, g.resolveTimeout)
	defer cancel()

	identity, err := g.resolver.Resolve(ctx, token)

	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation {
		// A newer SetCredential or ClearCredential won; discard.
		return
	}
	if err != nil {
		g.identity = nil
		obs.LogEvent(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "identity resolution failed",
			"error": err.Error(),
		})
		return
	}
	g.identity = &identity
}

// WaitResolved blocks until the newest resolution settles (successfully or
// not) or the context is done. Lets synchronous consumers such as the CLI
// observe the post-login state without polling.
func (g *Guard) WaitResolved(ctx context.Context) error {
	g.mu.Lock()
	settled := g.settled
	g.mu.Unlock()
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Credential returns the held token, if any.
func (g *Guard) Credential() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.credential, g.credential != ""
}

// Identity returns the resolved identity, if any.
func (g *Guard) Identity() (auth.Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.identity == nil {
		return auth.Identity{}, false
	}
	return *g.identity, true
}

// State reports the current lifecycle state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.credential == "":
		return StateLoggedOut
	case g.identity == nil:
		return StateAuthenticating
	default:
		return StateAuthenticated
	}
}

// HasCapability reports whether the resolved identity's role is in the
// required set. Advisory only: it decides which affordances a consumer
// shows, while the upstream system independently rejects unauthorized
// mutations.
func (g *Guard) HasCapability(required ...auth.Role) bool {
	identity, ok := g.Identity()
	if !ok {
		return false
	}
	return identity.Role.In(required...)
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
