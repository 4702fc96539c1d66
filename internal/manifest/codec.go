package manifest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ErrInvalidManifest is returned by Decode when the blob doesn't round-trip
// to a valid Plan; the Manager's directory scan treats this as "garbage
// collect this work directory" per spec.md §4.4 and §7.
var ErrInvalidManifest = fmt.Errorf("invalid manifest")

// Encode serializes plan the way spec.md §4.4 specifies: UTF-8 JSON, byte
// order reversed, then lowercase hex. This buys no security; it only keeps
// the on-disk format intentionally non-textual.
func Encode(plan *Plan) ([]byte, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	reverseBytes(data)
	encoded := make([]byte, hex.EncodedLen(len(data)))
	hex.Encode(encoded, data)
	return encoded, nil
}

// Decode reverses Encode exactly. Any stage failure yields
// ErrInvalidManifest rather than the underlying parse error, since a
// corrupt manifest and a manifest from an incompatible future version are
// both "not usable" to the caller.
func Decode(blob []byte) (*Plan, error) {
	raw := make([]byte, hex.DecodedLen(len(blob)))
	n, err := hex.Decode(raw, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	raw = raw[:n]
	reverseBytes(raw)
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return &plan, nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
