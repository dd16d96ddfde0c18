package chatsync

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// viewerClaims are tried in order when deriving the viewer id from a token.
var viewerClaims = []string{"sub", "id", "userId", "user_id"}

// ViewerFromToken extracts the user id carried by a bearer token. The token
// is not verified; the server remains the authority on its validity.
func ViewerFromToken(token string) (string, error) {
	if token == "" {
		return "", NewError(ErrorInvalidConfig, "empty token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", WrapError(ErrorInvalidConfig, "malformed token", err)
	}
	for _, name := range viewerClaims {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return "", NewError(ErrorInvalidConfig, fmt.Sprintf("token carries none of %v", viewerClaims))
}

// ResolveViewer returns cfg.UserID, or the id derived from cfg.Token.
func ResolveViewer(cfg Config) (string, error) {
	if cfg.UserID != "" {
		return cfg.UserID, nil
	}
	return ViewerFromToken(cfg.Token)
}
