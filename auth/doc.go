// Package auth authenticates API requests and authorizes what the caller
// may do.
//
// Three credential strategies are supported: JWT bearer tokens, API keys and
// application passwords sent with HTTP Basic auth. A Dispatcher picks the
// strategy from the shape of the presented credential, applies layered rate
// limits and resolves an Identity. The PolicyEngine then decides whether
// that Identity may perform an action on a resource, based on role
// policies, resource ownership and API key scopes.
//
// The TokenManager owns the credential lifecycle: it issues access and
// refresh token pairs, rotates refresh tokens exactly once, revokes tokens
// and keys, and sweeps expired records. Service bundles all of the above
// behind one facade.
//
// Expected failures (missing, invalid, expired or revoked credentials,
// denials and throttling) are reported as *Error values carrying an
// ErrorKind and the HTTP status the caller should render.
package auth
