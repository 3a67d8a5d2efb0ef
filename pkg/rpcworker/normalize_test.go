package rpcworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress_ValidLowercasesAndTrims(t *testing.T) {
	addr, err := NormalizeAddress("from", "  0xABCDEF0123456789ABCDEF0123456789ABCDEF01  ")
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), addr[0])
	assert.Equal(t, byte(0x01), addr[19])
}

func TestNormalizeAddress_RejectsMissingPrefix(t *testing.T) {
	_, err := NormalizeAddress("from", "ABCDEF0123456789ABCDEF0123456789ABCDEF01")
	assert.Error(t, err)
}

func TestNormalizeAddress_RejectsWrongLength(t *testing.T) {
	_, err := NormalizeAddress("from", "0xABCD")
	assert.Error(t, err)
}

func TestNormalizeHexInt_EmptyIsZero(t *testing.T) {
	n, err := NormalizeHexInt("gas", "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestNormalizeHexInt_ParsesHex(t *testing.T) {
	n, err := NormalizeHexInt("nonce", "0x2a")
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)
}

func TestNormalizeHexInt_RejectsMissingPrefix(t *testing.T) {
	_, err := NormalizeHexInt("nonce", "2a")
	assert.Error(t, err)
}

func TestNormalizeBlockTag_NamedTags(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		kind BlockTagKind
	}{
		{"latest", TagLatest},
		{"pending", TagPending},
		{"earliest", TagEarliest},
		{"finalized", TagFinalized},
		{"safe", TagSafe},
	} {
		tag, err := NormalizeBlockTag("block", tc.raw)
		require.NoError(t, err)
		assert.Equal(t, tc.kind, tag.Kind)
	}
}

func TestNormalizeBlockTag_HexSlot(t *testing.T) {
	tag, err := NormalizeBlockTag("block", "0x10")
	require.NoError(t, err)
	assert.Equal(t, TagSlot, tag.Kind)
	assert.EqualValues(t, 16, tag.Slot)
}

func TestNormalizeBlockTag_DecimalSlot(t *testing.T) {
	tag, err := NormalizeBlockTag("block", "100")
	require.NoError(t, err)
	assert.Equal(t, TagSlot, tag.Kind)
	assert.EqualValues(t, 100, tag.Slot)
}

func TestNormalizeBlockTag_RejectsGarbage(t *testing.T) {
	_, err := NormalizeBlockTag("block", "not-a-tag")
	assert.Error(t, err)
}

func TestPendingTip(t *testing.T) {
	tip := PendingTip(99)
	assert.EqualValues(t, 100, tip.TipSlot)
	assert.EqualValues(t, 99, tip.Parent)
}
