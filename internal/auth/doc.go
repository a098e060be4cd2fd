// Package auth authenticates OTP API callers and resolves their issuer
// identity.
//
// Two credential kinds are accepted: short-lived PASETO v4.public bearer
// tokens, and static API keys stored as Argon2id hashes. User identity and
// login flows live outside this service; auth only answers "who is calling".
package auth
