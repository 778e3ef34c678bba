package deal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32

// tokenLen is the encoded length of a tokenBytes token.
var tokenLen = base64.RawURLEncoding.EncodedLen(tokenBytes)

// NewToken returns a URL-safe capability token drawn from crypto/rand. It
// carries no information about the deal.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("deal: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// WellFormedToken rejects strings that NewToken could not have produced, so
// malformed tokens never reach storage.
func WellFormedToken(token string) bool {
	if len(token) != tokenLen {
		return false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(decoded) == tokenBytes
}

// ClientLink is the URL handed to the client: <origin>/deals/<token>.
func ClientLink(origin, token string) string {
	for len(origin) > 0 && origin[len(origin)-1] == '/' {
		origin = origin[:len(origin)-1]
	}
	return origin + "/deals/" + token
}
