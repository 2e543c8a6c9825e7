package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// ErrLoginFailed is the only error a rejected login yields. It never says
// whether the account exists.
var ErrLoginFailed = errors.New("login failed")

type Validity int

const (
	NoCredential Validity = iota
	Expired
	Valid
)

func (v Validity) String() string {
	switch v {
	case Expired:
		return "expired"
	case Valid:
		return "valid"
	}
	return "no_credential"
}

type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

// Operation describes what a caller wants to do and against which source.
type Operation struct {
	Kind   OpKind
	Source model.SourceKind
}

func Read(source model.SourceKind) Operation  { return Operation{Kind: OpRead, Source: source} }
func Write(source model.SourceKind) Operation { return Operation{Kind: OpWrite, Source: source} }

type Decision int

const (
	Authorized Decision = iota
	Refused
	NeedsRefresh
)

// Refusal is returned by Authorize when an operation may not proceed. Reason
// is model.ErrUnauthenticated or model.ErrSessionExpired.
type Refusal struct {
	Reason error
}

func (r *Refusal) Error() string {
	return "session refused: " + r.Reason.Error()
}

func (r *Refusal) Unwrap() error {
	return r.Reason
}

// Message is safe to show a user.
func (r *Refusal) Message() string {
	if errors.Is(r.Reason, model.ErrSessionExpired) {
		return "Your session has expired. Sign in again to continue."
	}
	return "Sign in to manage medicine reminders."
}

// Issuer is the credential issuance collaborator.
type Issuer interface {
	Login(ctx context.Context, id model.Identity) (string, error)
	Refresh(ctx context.Context, token string) (string, error)
}

// CredentialStore persists the current token across restarts.
type CredentialStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

type Options struct {
	RefreshTimeout time.Duration
	// RefreshCooldown is how long a failed refresh of a token is remembered
	// before another attempt is allowed.
	RefreshCooldown time.Duration
}

// Guard owns the current credential and decides whether operations may run.
type Guard struct {
	decoder *Decoder
	issuer  Issuer
	store   CredentialStore
	clk     clock.Clock
	opts    Options
	logger  *slog.Logger

	mu   sync.RWMutex
	cred model.Credential
	has  bool
	// gen increments whenever the credential is replaced or revoked, so a
	// refresh that started under an older credential never installs.
	gen uint64

	failedToken string
	failedAt    time.Time

	refresh singleflight.Group
}

func NewGuard(decoder *Decoder, issuer Issuer, store CredentialStore, clk clock.Clock, opts Options, logger *slog.Logger) *Guard {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.RefreshCooldown <= 0 {
		opts.RefreshCooldown = time.Minute
	}
	return &Guard{
		decoder: decoder,
		issuer:  issuer,
		store:   store,
		clk:     clk,
		opts:    opts,
		logger:  logger,
	}
}

// Restore loads a persisted credential. A token that no longer decodes is
// discarded.
func (g *Guard) Restore() error {
	token, err := g.store.Load()
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if token == "" {
		return nil
	}
	cred, err := g.decoder.Decode(token)
	if err != nil {
		g.logger.Warn("discarding stored credential", "error", err)
		return g.store.Clear()
	}
	g.mu.Lock()
	g.cred, g.has = cred, true
	g.gen++
	g.mu.Unlock()
	return nil
}

// Status reports the validity of the current credential at the guard's clock.
func (g *Guard) Status() Validity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statusLocked()
}

func (g *Guard) statusLocked() Validity {
	if !g.has {
		return NoCredential
	}
	if g.cred.ExpiresAt.Before(g.clk.Now()) {
		return Expired
	}
	return Valid
}

// Credential returns a copy of the current credential, if any.
func (g *Guard) Credential() (model.Credential, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cred, g.has
}

// Token returns the current token only while it is valid.
func (g *Guard) Token() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.statusLocked() != Valid {
		return "", false
	}
	return g.cred.Token, true
}

// Check decides an operation without side effects.
func (g *Guard) Check(op Operation) (Decision, error) {
	if op.Source == model.SourceStandalone {
		return Authorized, nil
	}
	switch g.Status() {
	case Valid:
		return Authorized, nil
	case Expired:
		// Writes never refresh: the user re-authenticates explicitly.
		if op.Kind == OpRead {
			return NeedsRefresh, nil
		}
		return Refused, &Refusal{Reason: model.ErrSessionExpired}
	}
	return Refused, &Refusal{Reason: model.ErrUnauthenticated}
}

// Authorize returns nil if op may proceed, or a *Refusal. An expired
// credential on a read gets exactly one refresh attempt.
func (g *Guard) Authorize(ctx context.Context, op Operation) error {
	d, err := g.Check(op)
	switch d {
	case Authorized:
		return nil
	case Refused:
		return err
	}

	if err := g.refreshOnce(ctx); err != nil {
		g.logger.Warn("credential refresh failed", "error", err)
		return &Refusal{Reason: model.ErrSessionExpired}
	}
	if g.Status() != Valid {
		return &Refusal{Reason: model.ErrSessionExpired}
	}
	return nil
}

func (g *Guard) refreshOnce(ctx context.Context) error {
	g.mu.RLock()
	token, gen := g.cred.Token, g.gen
	cooling := token == g.failedToken && g.clk.Now().Sub(g.failedAt) < g.opts.RefreshCooldown
	g.mu.RUnlock()
	if cooling {
		return errors.New("refresh recently failed")
	}

	// Concurrent readers share one refresh call.
	ch := g.refresh.DoChan(token, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.Background(), g.opts.RefreshTimeout)
		defer cancel()

		fresh, err := g.issuer.Refresh(rctx, token)
		if err == nil && rctx.Err() != nil {
			err = rctx.Err()
		}
		if err != nil {
			g.markFailed(token)
			return nil, fmt.Errorf("refresh: %w", err)
		}
		cred, err := g.decoder.Decode(fresh)
		if err != nil {
			g.markFailed(token)
			return nil, fmt.Errorf("decode refreshed credential: %w", err)
		}
		return nil, g.install(cred, gen)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Guard) markFailed(token string) {
	g.mu.Lock()
	g.failedToken, g.failedAt = token, g.clk.Now()
	g.mu.Unlock()
}

// install swaps in cred if no login or revoke happened since gen was read.
func (g *Guard) install(cred model.Credential, gen uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return errors.New("credential changed during refresh")
	}
	if err := g.store.Save(cred.Token); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	g.cred, g.has = cred, true
	g.gen++
	return nil
}

// Login exchanges an identity for a credential and installs it.
func (g *Guard) Login(ctx context.Context, id model.Identity) error {
	token, err := g.issuer.Login(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNetwork) {
			return fmt.Errorf("login: %w", model.ErrNetwork)
		}
		g.logger.Debug("login rejected", "error", err)
		return ErrLoginFailed
	}
	cred, err := g.decoder.Decode(token)
	if err != nil {
		g.logger.Warn("issuer returned undecodable credential", "error", err)
		return ErrLoginFailed
	}
	if cred.ExpiresAt.Before(g.clk.Now()) {
		return ErrLoginFailed
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Save(cred.Token); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	g.cred, g.has = cred, true
	g.gen++
	g.failedToken = ""
	return nil
}

// Revoke forgets the credential in memory. Persistent state is purged by the
// caller together with the other session-owned data.
func (g *Guard) Revoke() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cred, g.has = model.Credential{}, false
	g.gen++
	g.failedToken = ""
}
