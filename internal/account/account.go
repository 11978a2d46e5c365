// Package account wraps one venue session per brokerage login and owns the
// per-account lock that serializes every wire call: engine submissions and
// controller corrective actions for the same account never interleave.
package account

import (
	"context"
	"sync"
	"time"

	"tradecopy/internal/logger"
	"tradecopy/internal/venue"
)

// Account is one authenticated brokerage account.
type Account struct {
	Login       int64
	RiskPercent float64

	mu        sync.Mutex
	session   venue.Session
	connected bool
}

func New(login int64, riskPercent float64, session venue.Session) *Account {
	return &Account{Login: login, RiskPercent: riskPercent, session: session}
}

// Connect probes the session. The venue bridge occasionally needs a retry
// right after startup, so we attempt three times like any terminal operator
// would.
func (a *Account) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := a.session.AccountInfo(ctx); err == nil {
			a.connected = true
			logger.Infof("account %d: connected", a.Login)
			return nil
		} else {
			lastErr = err
			logger.Errorf("account %d: connect attempt %d/3 failed: %v", a.Login, attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return lastErr
}

// Connected reports whether the last connect probe succeeded.
func (a *Account) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// WithLock runs fn while holding the account lock. The venue session is not
// safe for concurrent callers, so every call goes through here.
func (a *Account) WithLock(fn func(venue.Session) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.session)
}

// CloseSession disconnects the underlying session.
func (a *Account) CloseSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return
	}
	if err := a.session.Close(); err != nil {
		logger.Warnf("account %d: session close failed: %v", a.Login, err)
	}
	a.connected = false
	logger.Infof("account %d: disconnected", a.Login)
}

// Registry is the account set shared by the execution engine and the
// reconciliation controller. Both receive the same instance at startup
// instead of a mutable slice.
type Registry interface {
	Active() []*Account
	ByLogin(login int64) (*Account, bool)
}

// StaticRegistry is the fixed account set built from configuration.
type StaticRegistry struct {
	accounts []*Account
	byLogin  map[int64]*Account
}

// NewStaticRegistry connects every account and keeps those that succeed. A
// connection failure excludes that account from the run; it is fatal only
// when no account survives (the caller decides that).
func NewStaticRegistry(ctx context.Context, accounts []*Account) *StaticRegistry {
	reg := &StaticRegistry{byLogin: make(map[int64]*Account, len(accounts))}
	for _, acc := range accounts {
		if err := acc.Connect(ctx); err != nil {
			logger.Errorf("account %d: excluded from this run: %v", acc.Login, err)
			continue
		}
		reg.accounts = append(reg.accounts, acc)
		reg.byLogin[acc.Login] = acc
	}
	return reg
}

func (r *StaticRegistry) Active() []*Account {
	out := make([]*Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		if acc.Connected() {
			out = append(out, acc)
		}
	}
	return out
}

func (r *StaticRegistry) ByLogin(login int64) (*Account, bool) {
	acc, ok := r.byLogin[login]
	if !ok || !acc.Connected() {
		return nil, false
	}
	return acc, true
}

// CloseAll disconnects every registered account.
func (r *StaticRegistry) CloseAll() {
	for _, acc := range r.accounts {
		acc.CloseSession()
	}
}

var _ Registry = (*StaticRegistry)(nil)
