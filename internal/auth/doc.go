// Package auth authenticates callers of the networked bridge transports.
//
// Tokens are HS256 JWTs signed with the configured jwt_secret and issued by
// the "token" command. The sub claim becomes the UserID of every tool call
// made with the token; an optional platform claim pins the platform the
// caller's tools are filtered and executed for.
//
// HTTPAuthMiddleware rejects requests without a valid bearer token and
// stores the verified Identity in the request context, where handlers read
// it back with FromContext.
package auth
