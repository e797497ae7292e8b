package orcid

import (
	"encoding/base64"
	"encoding/json"
)

// State is the opaque blob carried through the OAuth round-trip in the state
// query parameter. It does double duty: CSRF nonce plus "where to go next"
// after login.
type State struct {
	Next string `json:"next,omitempty"`
	CSRF string `json:"csrf,omitempty"`
}

// EncodeState serialises the state as base64(JSON), safe for a query string.
func EncodeState(s State) string {
	raw, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeState parses a state parameter. It accepts both standard and
// URL-safe base64, padded or not, since the value has passed through a
// browser redirect and assorted encoders on the way back.
func DecodeState(encoded string) (State, error) {
	var s State
	raw, err := decodeBase64Lenient(encoded)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	return s, nil
}

func decodeBase64Lenient(encoded string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		raw, err := enc.DecodeString(encoded)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
