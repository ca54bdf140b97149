// Package auth issues and validates the bearer tokens that guard PV writes
// and subscriptions.
//
// Tokens are HS256 JWTs issued by "p2plant-ioc" with a required expiry,
// a subject and one of two roles:
//   - viewer: read and subscribe
//   - operator: viewer plus writes
//
// The role-permission mapping is static. There is no user store; tokens are
// minted with the "token" CLI subcommand from the configured secret.
package auth
