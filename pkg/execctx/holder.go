package execctx

import (
	"sync"

	"github.com/neon-proxy/neon-proxy/pkg/chainix"
)

// HolderLifecycle answers the open question in spec.md §9 ("holder reuse
// after cancel"): rather than assume CancelWithHash fully clears holder
// state, a holder moves Dirty -> Cleared -> Free. Pool.Checkout does not
// consult this state: an OpRes is handed out whatever its holder's
// lifecycle.
type HolderLifecycle int

const (
	HolderFree HolderLifecycle = iota
	HolderDirty
	HolderCleared
)

// Holder is a Chain-resident scratch buffer owned by the EVM program,
// addressable by public key, staging large transaction bytes and
// iterative step state (§3). Created lazily, reused across transactions
// by the same operator, deleted on explicit teardown or stuck-tx
// cancellation.
type Holder struct {
	mu sync.Mutex

	Address   chainix.Pubkey
	Lifecycle HolderLifecycle

	// writtenHighWaterMark is the largest offset+len ever written by
	// HolderWrite this transaction. It backs the prep-progress invariant
	// from spec.md §9: a prep_before_emulate retry that reports
	// has_changes=true without moving this forward does not count as
	// real progress.
	writtenHighWaterMark uint64
}

// NewHolder constructs a holder in the Free state, ready to be claimed by
// an ExecCtx.
func NewHolder(addr chainix.Pubkey) *Holder {
	return &Holder{Address: addr, Lifecycle: HolderFree}
}

// MarkCancelled transitions a holder out of Free into Dirty after a
// cancel() issues CancelWithHash against it — the EVM program's guarantee
// that cancellation clears holder state is not re-verified here, so reuse
// is only allowed after an explicit Clear.
func (h *Holder) MarkCancelled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Lifecycle = HolderDirty
}

// Clear transitions Dirty -> Cleared, recording that a fresh HolderCreate
// (idempotent) or teardown has been observed against this holder.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Lifecycle == HolderDirty {
		h.Lifecycle = HolderCleared
	}
}

// Release transitions Cleared -> Free, making the holder eligible for
// reuse by a new ExecCtx.
func (h *Holder) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Lifecycle == HolderCleared {
		h.Lifecycle = HolderFree
	}
	h.writtenHighWaterMark = 0
}

// RecordWrite reports a HolderWrite at the given offset/length and
// returns whether it represents forward progress (offset+len strictly
// greater than anything written before). The strategy ladder's holder
// write loop calls this and fails the attempt with an error on a
// no-progress write (spec.md §9's prep-progress invariant).
func (h *Holder) RecordWrite(offset uint64, length int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	end := offset + uint64(length)
	if end > h.writtenHighWaterMark {
		h.writtenHighWaterMark = end
		return true
	}
	return false
}

// WrittenBytes reports how much of the transaction has been staged into
// the holder so far.
func (h *Holder) WrittenBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writtenHighWaterMark
}

// IsFree reports whether the holder may be claimed by a new ExecCtx.
func (h *Holder) IsFree() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Lifecycle == HolderFree
}
