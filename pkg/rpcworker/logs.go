package rpcworker

import (
	"context"
	"fmt"

	"github.com/neon-proxy/neon-proxy/pkg/indexerdb"
)

// eventTypeNames is the §6 event-type decoding table used by the neon_
// log variants.
var eventTypeNames = map[int]string{
	1:   "LOG",
	101: "ENTER CALL",
	102: "ENTER CALL CODE",
	103: "ENTER STATICCALL",
	104: "ENTER DELEGATECALL",
	105: "ENTER CREATE",
	106: "ENTER CREATE2",
	201: "EXIT STOP",
	202: "EXIT RETURN",
	203: "EXIT SELFDESTRUCT",
	204: "EXIT REVERT",
	300: "RETURN",
	301: "CANCEL",
}

// NeonEventTypeName decodes a raw neonEventType code into its textual
// form (§6), or "" if the code is unrecognized.
func NeonEventTypeName(code int) string {
	return eventTypeNames[code]
}

// isHiddenEventType reports whether a log entry is a neon-only
// bookkeeping event that the plain eth_ variant must never surface.
func isHiddenEventType(code int) bool {
	switch {
	case code >= 101 && code <= 106:
		return true
	case code >= 201 && code <= 204:
		return true
	case code == 300 || code == 301:
		return true
	default:
		return false
	}
}

// LogEntry is the JSON-RPC-facing view of one log row: the remaining
// fields hold the plain eth_getLogs shape; NeonEventType is only
// populated for the neon_ variant.
type LogEntry struct {
	BlockSlot     uint64
	TxSig         [32]byte
	Address       [20]byte
	Topics        [][32]byte
	Data          []byte
	NeonEventType string // "" for eth_getLogs
}

// GetLogs implements eth_getLogs (§4.6): strips neon-only hidden log
// entries and never surfaces a NeonEventType.
func (w *Worker) GetLogs(ctx context.Context, filter indexerdb.LogFilter) ([]LogEntry, error) {
	rows, err := w.store.GetLogList(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("rpcworker: get logs: %w", err)
	}

	out := make([]LogEntry, 0, len(rows))
	for _, row := range rows {
		if isHiddenEventType(row.NeonEventType) {
			continue
		}
		out = append(out, LogEntry{
			BlockSlot: row.BlockSlot,
			TxSig:     row.TxSig,
			Address:   row.Address,
			Topics:    row.Topics,
			Data:      row.Data,
		})
	}
	return out, nil
}

// GetNeonLogs implements neon_getLogs (§4.6): returns every row,
// decoding neonEventType into its textual form.
func (w *Worker) GetNeonLogs(ctx context.Context, filter indexerdb.LogFilter) ([]LogEntry, error) {
	rows, err := w.store.GetLogList(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("rpcworker: get neon logs: %w", err)
	}

	out := make([]LogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, LogEntry{
			BlockSlot:     row.BlockSlot,
			TxSig:         row.TxSig,
			Address:       row.Address,
			Topics:        row.Topics,
			Data:          row.Data,
			NeonEventType: NeonEventTypeName(row.NeonEventType),
		})
	}
	return out, nil
}
