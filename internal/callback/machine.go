// Package callback drives the redirect-back leg of the managed-auth OAuth
// flow as an explicit state machine.
//
// The browser lands on the callback route with a one-time authorization code.
// Exchanging that code is fragile in exactly the ways a state machine handles
// well: the provider may redeliver the redirect, the exchange may hang, and a
// "code already used" error may mean a previous attempt actually succeeded.
// Every path out of here is a redirect — raw errors never reach the browser.
package callback

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ncsstat/ncsstat/internal/authbackend"
)

// State is the terminal outcome of a callback attempt.
type State string

const (
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

const (
	// DefaultExchangeTimeout bounds how long a hung exchange can keep the
	// user staring at the callback page.
	DefaultExchangeTimeout = 15 * time.Second

	// defaultRecoveryWait gives a racing duplicate delivery time to finish
	// before we re-check whether the caller ended up with a session anyway.
	defaultRecoveryWait = time.Second

	// flowTTL is how long a finished flow's result stays replayable for
	// late duplicate deliveries of the same code.
	flowTTL = 10 * time.Minute

	loginPath   = "/login"
	defaultNext = "/"
)

// Params carries one callback invocation's inputs: the query parameters the
// provider redirected back with, plus whether THIS caller already holds a
// valid session (derived from the caller's own cookies by the handler).
type Params struct {
	Code             string
	Error            string
	ErrorDescription string
	Next             string
	HasSession       bool
}

// Result is the terminal outcome of one callback invocation. Session is set
// only on a success that performed an exchange; the caller mints its cookies
// from it.
type Result struct {
	State      State
	RedirectTo string
	Reason     string
	Session    *authbackend.Session
}

// Machine runs the callback flow. One Machine serves the whole process, but
// each authorization code gets its own flow: duplicate deliveries of one code
// (double-click, provider retry) serialize on that flow and replay its result,
// while unrelated users' codes proceed independently — one hung exchange never
// queues anyone else.
type Machine struct {
	backend      authbackend.Client
	timeout      time.Duration
	recoveryWait time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	flows map[string]*flow
}

// flow is the per-code idempotency scope: the exchange for a code runs at
// most once, and later deliveries replay the recorded result.
type flow struct {
	mu     sync.Mutex
	done   bool
	doneAt time.Time
	result Result
}

func NewMachine(backend authbackend.Client, logger *slog.Logger) *Machine {
	return &Machine{
		backend:      backend,
		timeout:      DefaultExchangeTimeout,
		recoveryWait: defaultRecoveryWait,
		logger:       logger,
		flows:        make(map[string]*flow),
	}
}

// NewMachineWithTimeouts is for tests that can't afford real 15s waits.
func NewMachineWithTimeouts(backend authbackend.Client, timeout, recoveryWait time.Duration, logger *slog.Logger) *Machine {
	m := NewMachine(backend, logger)
	m.timeout = timeout
	m.recoveryWait = recoveryWait
	return m
}

// Handle runs one callback invocation to a terminal Success or Failed.
//
// The flow lock for the code is held for the full invocation: a duplicate
// delivery of the same code blocks behind the first attempt and then replays
// the recorded result, so the exchange network call runs at most once per
// code. Different codes never contend.
func (m *Machine) Handle(ctx context.Context, p Params) Result {
	// === Step 1: provider reported an error — terminal ===
	if p.Error != "" {
		reason := p.Error
		if p.ErrorDescription != "" {
			reason = p.ErrorDescription
		}
		m.logger.Warn("callback: provider returned error", slog.String("error", reason))
		return fail(reason)
	}

	// === Step 2: no code — usable only if the caller is already signed in ===
	if p.Code == "" {
		if p.HasSession {
			return succeed(p.Next, nil)
		}
		return fail("no_auth_code")
	}

	f := m.flowFor(p.Code)
	f.mu.Lock()
	defer f.mu.Unlock()

	// === Step 3: already-processed guard ===
	if f.done {
		m.logger.Info("callback: duplicate code delivery, replaying result",
			slog.String("state", string(f.result.State)),
		)
		return f.result
	}

	// === Step 4: fast path — the caller already has a session ===
	if p.HasSession {
		return f.finish(succeed(p.Next, nil))
	}

	// === Step 5: exchange, raced against the timeout ===
	session, err := m.exchange(ctx, p.Code)
	if err == nil && session.Valid() {
		return f.finish(succeed(p.Next, session))
	}

	if err != nil && codeAlreadyConsumed(err) {
		// A concurrent delivery in another process likely redeemed this
		// code; its response may already have set the caller's cookies.
		m.logger.Info("callback: code already consumed, waiting before recovery check")
		m.wait(ctx)
		if p.HasSession {
			return f.finish(succeed(p.Next, nil))
		}
	}

	if err != nil {
		m.logger.Warn("callback: code exchange failed", slog.String("error", err.Error()))
	}

	// === Step 6: one final recovery check before giving up ===
	if p.HasSession {
		return f.finish(succeed(p.Next, nil))
	}
	return f.finish(fail("auth_callback_failed"))
}

// flowFor returns the flow for code, creating it if needed and pruning flows
// whose replay window has passed.
func (m *Machine) flowFor(code string) *flow {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, f := range m.flows {
		// Never block on a flow mid-exchange; it gets pruned next time.
		if !f.mu.TryLock() {
			continue
		}
		stale := f.done && time.Since(f.doneAt) > flowTTL
		f.mu.Unlock()
		if stale {
			delete(m.flows, k)
		}
	}

	f, ok := m.flows[code]
	if !ok {
		f = &flow{}
		m.flows[code] = f
	}
	return f
}

// finish records the flow's terminal result for replay. Caller holds f.mu.
func (f *flow) finish(r Result) Result {
	f.done = true
	f.doneAt = time.Now()
	f.result = r
	return r
}

// exchange calls the backend, bounded by the machine's timeout. The
// underlying request is not cancelled retroactively on timeout; its result
// is simply discarded.
func (m *Machine) exchange(ctx context.Context, code string) (*authbackend.Session, error) {
	exchangeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type outcome struct {
		session *authbackend.Session
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		session, err := m.backend.ExchangeCodeForSession(exchangeCtx, code)
		done <- outcome{session: session, err: err}
	}()

	select {
	case out := <-done:
		return out.session, out.err
	case <-exchangeCtx.Done():
		return nil, exchangeCtx.Err()
	}
}

func (m *Machine) wait(ctx context.Context) {
	select {
	case <-time.After(m.recoveryWait):
	case <-ctx.Done():
	}
}

func succeed(next string, session *authbackend.Session) Result {
	return Result{
		State:      StateSuccess,
		RedirectTo: sanitizeNext(next),
		Session:    session,
	}
}

func fail(reason string) Result {
	return Result{
		State:      StateFailed,
		RedirectTo: loginPath + "?error=" + url.QueryEscape(reason),
		Reason:     reason,
	}
}

// codeAlreadyConsumed detects the backend's "this code was already redeemed"
// family of errors by message text, since the backend exposes no typed error
// for it. The two markers are stable across backend versions.
func codeAlreadyConsumed(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "code_challenge") || strings.Contains(msg, "already been used")
}

// sanitizeNext keeps redirects on-site: only rooted paths pass through.
func sanitizeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return defaultNext
	}
	return next
}
