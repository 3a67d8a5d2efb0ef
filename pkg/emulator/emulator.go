// Package emulator models the Emulator collaborator named in §1 and §4.2:
// an oracle the Proxy queries for gas estimation and execution simulation,
// never something this proxy executes itself.
package emulator

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neon-proxy/neon-proxy/pkg/chainix"
	"github.com/neon-proxy/neon-proxy/pkg/ethtx"
)

// ErrReschedule is returned by Emulate when the emulation could not be
// completed this attempt but may succeed later (§7, Reschedule kind).
var ErrReschedule = errors.New("emulator: reschedule")

// Result is what the Emulator reports back about a transaction: the set
// of accounts it touches and an approximate iterative step count, both of
// which seed ExecCfg (§4.2).
type Result struct {
	TouchedAccounts  []chainix.Pubkey
	StepCount        uint32
	ExitStatus       uint8
	UsedGas          uint64
}

// Emulator is the interface the Validator and Strategy Ladder consume. It
// is a suspension point (§5): every call may block on a network round
// trip to the external emulation service.
type Emulator interface {
	Emulate(ctx context.Context, tx *ethtx.EthTx) (Result, error)
	EstimateGas(ctx context.Context, from common.Address, to *common.Address, data []byte, value, gasPrice uint64) (uint64, error)
}
