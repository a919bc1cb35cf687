// Package auth authenticates every guarded request before it reaches
// protocol logic.
//
// A Gate extracts a bearer credential from the Authorization header (and,
// when the caller allows it, from the apiKey query parameter, which is logged
// as a weaker fallback) and hands it to an Authenticator. Two authenticators
// are provided:
//
//   - AuthorityClient posts the raw key to an external authority
//     (POST {base}/validate {"key": ...} -> {"valid": bool}).
//   - OIDCAuthenticator verifies RFC 9068 JWT access tokens using OIDC
//     discovery and an auto-refreshing JWKS.
//
// The gate fails closed. A request with no credential is rejected with 401
// before any authenticator call; any authenticator error, malformed reply or
// network failure yields 403. Results are never cached.
//
// Example:
//
//	authority, err := auth.NewAuthorityClient("https://auth.example.com")
//	if err != nil { log.Fatal(err) }
//	gate := auth.NewGate(authority, auth.WithGateLogger(logger))
//	mux.Handle("/jsonrpc", gate.Middleware(true)(rpcHandler))
package auth
