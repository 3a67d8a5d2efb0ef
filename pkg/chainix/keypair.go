package chainix

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadSignerPubkey reads an operator's Chain keypair file and returns the
// public key half of it. Keypair files use the Chain CLI's own JSON
// encoding: a 64-byte ed25519 secret key serialized as a JSON array of
// integers, with the last 32 bytes being the public key.
func LoadSignerPubkey(path string) (Pubkey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pubkey{}, fmt.Errorf("chainix: read keypair %s: %w", path, err)
	}

	// The Chain CLI encodes a keypair as a JSON array of integers, not a
	// base64 string, so this can't unmarshal directly into []byte.
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return Pubkey{}, fmt.Errorf("chainix: parse keypair %s: %w", path, err)
	}
	if len(ints) != 64 {
		return Pubkey{}, fmt.Errorf("chainix: keypair %s has %d bytes, want 64", path, len(ints))
	}

	var pk Pubkey
	for i, v := range ints[32:] {
		if v < 0 || v > 0xff {
			return Pubkey{}, fmt.Errorf("chainix: keypair %s: byte %d out of range: %d", path, i+32, v)
		}
		pk[i] = byte(v)
	}
	return pk, nil
}
