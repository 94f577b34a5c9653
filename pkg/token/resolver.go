// Package token resolves a usable downstream credential out of the opaque
// session payload captured at login time.
//
// The portal's login response can carry two credential generations at once:
// a legacy token nested under old_login_info, accepted by the older
// elearning endpoints, and a current token at the top level. Which one a
// feature needs depends on the API generation it calls.
package token

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrCredentialUnresolved indicates the session payload holds no usable
// token. Callers treat this as "not authenticated" and prompt a re-login;
// the downstream call is never retried with an empty credential.
var ErrCredentialUnresolved = errors.New("no usable credential in session payload")

// Generation selects which credential generation to resolve.
type Generation string

const (
	// GenerationLegacy targets the older elearning API family. The legacy
	// token is preferred when present, with the current token as fallback.
	GenerationLegacy Generation = "legacy"

	// GenerationCurrent targets the current API family, which only accepts
	// the top-level token.
	GenerationCurrent Generation = "current"
)

const (
	currentTokenPath = "token"
	legacyTokenPath  = "old_login_info.token"
)

// Resolve extracts the credential for the requested generation from a
// session payload. Resolution order for GenerationLegacy is the nested
// legacy token first, then the top-level token; GenerationCurrent reads
// only the top-level token.
func Resolve(payload json.RawMessage, gen Generation) (string, error) {
	if len(payload) == 0 {
		return "", ErrCredentialUnresolved
	}

	if gen == GenerationLegacy {
		if legacy := gjson.GetBytes(payload, legacyTokenPath); legacy.Type == gjson.String && legacy.Str != "" {
			return legacy.Str, nil
		}
	}

	if current := gjson.GetBytes(payload, currentTokenPath); current.Type == gjson.String && current.Str != "" {
		return current.Str, nil
	}

	return "", ErrCredentialUnresolved
}

// DisplayName extracts the student's name from the session payload, or ""
// when absent.
func DisplayName(payload json.RawMessage) string {
	return gjson.GetBytes(payload, "ho_ten").String()
}

// ExpiresAt reports the expiry of a resolved token by peeking at its JWT
// claims without verifying the signature (the downstream portal owns the
// signing key). ok is false for non-JWT tokens and tokens without an exp
// claim.
func ExpiresAt(tok string) (expiry time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Redact blanks all credential material in a session payload so it can be
// logged. The input is not modified.
func Redact(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return payload
	}
	out := []byte(payload)
	for _, path := range []string{currentTokenPath, legacyTokenPath} {
		if !gjson.GetBytes(out, path).Exists() {
			continue
		}
		redacted, err := sjson.SetBytes(out, path, "[REDACTED]")
		if err != nil {
			continue
		}
		out = redacted
	}
	return out
}
