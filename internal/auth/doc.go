// Package auth issues and validates operator tokens.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. The API requires
// one on every write; reads stay open so dashboards need no credentials.
// Tokens are minted offline with `ccbcctl token` and are not stored:
// rotating the secret revokes all of them.
package auth
