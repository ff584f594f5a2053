// Package auth issues and checks staff session tokens.
//
// Tokens are HS256 JWTs carried in the facenroll_token cookie or an
// Authorization: Bearer header. Logout revokes a token by ID until it
// would have expired anyway.
package auth
