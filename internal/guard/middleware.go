package guard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/consolegate/consolegate/internal/session"
)

// decisionKey is the gin context key holding the Decision for a request
const decisionKey = "guard_decision"

// GetDecision returns the decision the guard made for this request, if the
// guard ran
func GetDecision(c *gin.Context) (Decision, bool) {
	v, exists := c.Get(decisionKey)
	if !exists {
		return Decision{}, false
	}
	d, ok := v.(Decision)
	return d, ok
}

// Middleware evaluates the policy for every request whose path is not
// excluded, reading the session token from the session cookie
func Middleware(policy Policy, cookie session.CookieOptions, log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "guard").Logger()

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if policy.Excluded(path) {
			c.Next()
			return
		}

		token, _ := session.ReadCookie(c.Request, cookie)
		decision := policy.Decide(path, token)
		c.Set(decisionKey, decision)

		if decision.MalformedSession {
			log.Debug().Str("path", path).Msg("Ignoring malformed session token")
		}

		if decision.Action == Allow {
			c.Next()
			return
		}

		c.Redirect(redirectStatus(c.Request.Method), policy.Location(decision))
		c.Abort()
	}
}

// redirectStatus keeps GET/HEAD as 302 and turns other methods into a GET on
// the target
func redirectStatus(method string) int {
	if method == http.MethodGet || method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}
