// Package indexer implements the single-threaded periodic indexing loop
// (§4.7) that ingests finalized Chain slots into the historical store.
package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/neon-proxy/neon-proxy/pkg/chainclient"
	"github.com/neon-proxy/neon-proxy/pkg/indexerdb"
)

// StartSlotMode names the three ways §4.7 lets an operator seed
// start_slot.
type StartSlotMode int

const (
	// StartLatest resolves to the current finalized slot.
	StartLatest StartSlotMode = iota
	// StartContinue resumes from the last parsed slot, or StartLatest if
	// nothing has ever been parsed.
	StartContinue
	// StartAt resolves to a specific decimal slot, clamped to
	// [last parsed slot, finalized slot].
	StartAt
)

// StartSlotConfig is the parsed form of the loop's string start_slot
// config value (§4.7): "LATEST", "CONTINUE", or a decimal N.
type StartSlotConfig struct {
	Mode StartSlotMode
	N    uint64 // only meaningful when Mode == StartAt
}

// ParseStartSlotConfig parses the raw config string into a
// StartSlotConfig, matching §4.7's three accepted forms.
func ParseStartSlotConfig(raw string) (StartSlotConfig, error) {
	switch raw {
	case "LATEST":
		return StartSlotConfig{Mode: StartLatest}, nil
	case "CONTINUE":
		return StartSlotConfig{Mode: StartContinue}, nil
	default:
		var n uint64
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			return StartSlotConfig{}, fmt.Errorf("indexer: invalid start_slot %q: %w", raw, err)
		}
		return StartSlotConfig{Mode: StartAt, N: n}, nil
	}
}

// Loop is the C7 periodic indexing loop: on each tick it asks IngestFunc
// to ingest one more batch of slots, logging and swallowing any error so
// a transient failure never stops the loop (§4.7).
type Loop struct {
	chain        chainclient.Client
	store        indexerdb.Store
	checkEvery   time.Duration
	startCfg     StartSlotConfig
	logger       *log.Logger
	ingest       IngestFunc
	lastParsed   uint64
	startSlot    uint64
	startResolved bool
}

// IngestFunc ingests the slot range [fromSlot, toSlot] (inclusive),
// returning the last slot it successfully parsed. The concrete parsing
// of Chain instructions into neon_transactions/neon_logs rows is a
// collaborator the loop calls, not something the loop itself encodes --
// the loop's job is scheduling and fault isolation, not instruction
// decoding.
type IngestFunc func(ctx context.Context, fromSlot, toSlot uint64) (lastParsed uint64, err error)

// New constructs a Loop. checkEvery is indexer_check_msec (§4.7);
// startCfg is the parsed start_slot config value.
func New(chain chainclient.Client, store indexerdb.Store, checkEvery time.Duration, startCfg StartSlotConfig, ingest IngestFunc, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.New(log.Writer(), "[Indexer] ", log.LstdFlags)
	}
	return &Loop{chain: chain, store: store, checkEvery: checkEvery, startCfg: startCfg, ingest: ingest, logger: logger}
}

// resolveStartSlot computes start_slot = max(resolved_start_slot,
// first_available_block) per §4.7's exact rule set, caching the result
// across calls since it should only ever run once per process lifetime.
func (l *Loop) resolveStartSlot(ctx context.Context) (uint64, error) {
	if l.startResolved {
		return l.startSlot, nil
	}

	finalized, err := l.chain.GetSlot(ctx, "finalized")
	if err != nil {
		return 0, fmt.Errorf("indexer: resolve start slot: get finalized slot: %w", err)
	}

	lastParsedBlock, err := l.store.GetLatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("indexer: resolve start slot: get latest indexed block: %w", err)
	}
	var lastParsed uint64
	if lastParsedBlock != nil {
		lastParsed = lastParsedBlock.Slot
	}

	var resolved uint64
	switch l.startCfg.Mode {
	case StartLatest:
		resolved = finalized
	case StartContinue:
		if lastParsed > 0 {
			resolved = lastParsed
		} else {
			resolved = finalized
		}
	case StartAt:
		resolved = l.startCfg.N
		if resolved > finalized {
			resolved = finalized
		}
		if resolved < lastParsed {
			resolved = lastParsed
		}
	default:
		return 0, fmt.Errorf("indexer: unknown start slot mode %d", l.startCfg.Mode)
	}

	startingBlock, err := l.store.GetStartingBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("indexer: resolve start slot: get first available block: %w", err)
	}
	firstAvailable := resolved
	if startingBlock != nil && startingBlock.Slot > firstAvailable {
		firstAvailable = startingBlock.Slot
	}

	l.startSlot = firstAvailable
	l.lastParsed = firstAvailable
	l.startResolved = true
	return l.startSlot, nil
}

// Run blocks, ticking every checkEvery until ctx is cancelled, calling
// Ingest on every tick and logging-and-swallowing any error it returns
// (§4.7: "the loop does not terminate on transient failures").
func (l *Loop) Run(ctx context.Context) error {
	startSlot, err := l.resolveStartSlot(ctx)
	if err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	l.logger.Printf("starting from slot %d", startSlot)

	ticker := time.NewTicker(l.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	finalized, err := l.chain.GetSlot(ctx, "finalized")
	if err != nil {
		l.logger.Printf("tick: get finalized slot failed: %v", err)
		return
	}
	if finalized <= l.lastParsed {
		return
	}

	lastParsed, err := l.ingest(ctx, l.lastParsed+1, finalized)
	if err != nil {
		l.logger.Printf("tick: ingest [%d,%d] failed: %v", l.lastParsed+1, finalized, err)
		return
	}
	if lastParsed > l.lastParsed {
		l.lastParsed = lastParsed
	}
}

// LastParsedSlot reports the highest slot the loop has successfully
// ingested so far, for health/status reporting.
func (l *Loop) LastParsedSlot() uint64 { return l.lastParsed }
