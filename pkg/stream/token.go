package stream

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Token is the resume capability handed to the client when a session opens.
// It is opaque on the wire: a base64url JSON body plus an HMAC-SHA256
// signature. The client stores it verbatim and presents it on reconnect; the
// actual replay position travels separately as the cursor, so a token issued
// before any events were emitted stays valid for the whole session.
type Token struct {
	SessionID string `json:"session_id"`
	// LastSequence is the highest sequence delivered when the token was
	// issued, -1 when the session had emitted nothing yet.
	LastSequence int64     `json:"last_sequence"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// EncodeToken signs and serializes a token with the given secret.
func EncodeToken(secret []byte, t Token) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode resume token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(body) + "." + sign(secret, body), nil
}

// DecodeToken verifies the signature and deserializes the token. It returns
// ErrTokenInvalid for anything that fails structural or signature checks;
// expiry is checked by the caller against its own clock.
func DecodeToken(secret []byte, raw string) (*Token, error) {
	bodyPart, sigPart, found := strings.Cut(raw, ".")
	if !found {
		return nil, ErrTokenInvalid
	}
	body, err := base64.RawURLEncoding.DecodeString(bodyPart)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if !hmac.Equal([]byte(sign(secret, body)), []byte(sigPart)) {
		return nil, ErrTokenInvalid
	}
	var t Token
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, ErrTokenInvalid
	}
	if t.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return &t, nil
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
