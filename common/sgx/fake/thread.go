package fake

import (
	"context"
	"sync"

	"github.com/ahawad/asylo/common/errors"
)

type threadContextKey struct{}

// Thread is a logical processor of an emulated platform. It holds the
// enclave currently entered on it, if any.
//
// A Thread is the handle every key and report operation is issued
// through, so there is no process wide notion of a current enclave.
type Thread struct {
	mu sync.Mutex

	platform *Platform
	current  *Enclave
}

// Platform returns the platform the thread belongs to.
func (t *Thread) Platform() *Platform {
	return t.platform
}

// Enter installs a private copy of the enclave as the one executing on the
// thread. Entering while another enclave is entered fails.
func (t *Thread) Enter(e *Enclave) error {
	if e == nil {
		return errors.WithContext(ErrInvalidArgument, "nil enclave")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		return ErrReentrantEnter
	}
	t.current = e.Clone()

	t.platform.logger.Debug("entered enclave",
		"mrenclave", t.current.mrenclave,
		"mrsigner", t.current.mrsigner,
	)
	return nil
}

// Current returns the enclave entered on the thread, or nil if none is.
//
// The returned enclave is the thread's own copy; mutating it changes the
// identity seen by subsequent operations on this thread.
func (t *Thread) Current() *Enclave {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current
}

// Exit leaves the entered enclave, if any.
func (t *Thread) Exit() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		t.platform.logger.Debug("exited enclave",
			"mrenclave", t.current.mrenclave,
		)
	}
	t.current = nil
}

// SelfIdentity returns the identity of the entered enclave.
func (t *Thread) SelfIdentity() (*Identity, error) {
	e, err := t.enclave()
	if err != nil {
		return nil, err
	}
	return e.Identity(), nil
}

// enclave returns a snapshot of the entered enclave.
func (t *Thread) enclave() (*Enclave, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil, ErrNoCurrentIdentity
	}
	return t.current.Clone(), nil
}

// WithThread returns a copy of the parent context carrying the thread.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadContextKey{}, t)
}

// ThreadFromContext returns the thread carried by the context, if any.
func ThreadFromContext(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadContextKey{}).(*Thread)
	return t, ok && t != nil
}
