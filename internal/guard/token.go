package guard

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxTokenLength = 4096

// OpaqueTokenCheck accepts any token made of printable, non-space ASCII that
// fits in a cookie
func OpaqueTokenCheck(token string) bool {
	if token == "" || len(token) > maxTokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c <= ' ' || c >= 0x7f || c == ';' || c == ',' {
			return false
		}
	}
	return true
}

// JWTTokenCheck accepts tokens shaped like a JWT whose exp claim, if any, is
// in the future. The signature is not verified here; the identity service
// owns that. now defaults to time.Now.
func JWTTokenCheck(now func() time.Time) TokenCheck {
	if now == nil {
		now = time.Now
	}
	parser := jwt.NewParser()

	return func(token string) bool {
		if !OpaqueTokenCheck(token) {
			return false
		}

		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(token, claims); err != nil {
			return false
		}

		exp, err := claims.GetExpirationTime()
		if err != nil {
			return false
		}
		if exp != nil && !now().Before(exp.Time) {
			return false
		}
		return true
	}
}
