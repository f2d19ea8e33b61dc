// Package auth validates bearer tokens and enforces roles, scopes and the
// operator access-level boundary for the control panel API.
//
// Tokens are JWTs signed with HS256 (development) or RS256 with a PEM key or a
// JWKS endpoint. Besides sub, roles and scopes, a token carries accessLevel; a
// caller may operate a robot only when accessLevel is strictly greater than the
// configured minimum.
package auth
