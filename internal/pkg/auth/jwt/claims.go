/*
Package jwt issues and verifies the signed tokens a client presents to resume its session
after a short disconnect.
*/
package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a resume token.
type Payload struct {
	jwt.StandardClaims

	// UserID is the numeric id of the user the session belongs to.
	UserID int `json:"uid"`

	// SessionID ties the token to a single connection lifetime, so a token cannot be
	// replayed against a later user that happens to reuse the same numeric id.
	SessionID string `json:"sid"`
}
