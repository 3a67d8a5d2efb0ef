package execctx

import (
	"fmt"
	"sync"

	"github.com/neon-proxy/neon-proxy/pkg/chainix"
)

// OpRes is an operator identity: a keypair plus a derived Chain-side
// account, with an associated Holder (§3). At most one in-flight
// transaction may hold a given OpRes at a time (§5, §8.6).
type OpRes struct {
	Signer   chainix.Pubkey
	NeonSide chainix.Pubkey
	Holder   *Holder

	checkedOut bool
}

// Pool hands out OpRes values exclusively for the life of one ExecCtx and
// reclaims them on terminal result, enforcing §5's "per OpRes, at-most-one
// in-flight tx" guarantee.
type Pool struct {
	mu        sync.Mutex
	resources []*OpRes
}

// NewPool constructs a pool from a fixed set of operator resources,
// mirroring the one-keypair-per-operator deployment model of §3.
func NewPool(resources []*OpRes) *Pool {
	return &Pool{resources: resources}
}

// Checkout reserves the first available OpRes. It returns an error rather
// than blocking; callers that want to wait for availability retry after a
// Reschedule, same as any other strategy-ladder suspension point.
func (p *Pool) Checkout() (*OpRes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.resources {
		if !r.checkedOut {
			r.checkedOut = true
			return r, nil
		}
	}
	return nil, fmt.Errorf("execctx: no operator resource available")
}

// Return releases an OpRes back to the pool on terminal result (success,
// terminal failure, or cancel). It is a checked error to return an OpRes
// that was not checked out, since that would indicate two ExecCtx records
// believing they hold the same resource (§8.6 exclusivity invariant).
func (p *Pool) Return(r *OpRes) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !r.checkedOut {
		return fmt.Errorf("execctx: operator resource %s was not checked out", r.Signer)
	}
	r.checkedOut = false
	if r.Holder != nil {
		r.Holder.mu.Lock()
		r.Holder.writtenHighWaterMark = 0
		r.Holder.mu.Unlock()
	}
	return nil
}

// ForceReinit marks a resource as available again after its Chain-side
// state was found corrupt, per §3's OpRes lifecycle note
// ("force-reinitialized on corrupt state"). Unlike Return this does not
// check checkedOut: a corrupt resource may be discovered by a scanner
// that never held the checkout.
func (p *Pool) ForceReinit(r *OpRes) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r.checkedOut = false
	if r.Holder != nil {
		r.Holder.Lifecycle = HolderFree
	}
}
