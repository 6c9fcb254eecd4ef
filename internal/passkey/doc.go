// Package passkey implements the passkey authentication factor.
//
// A Broker asks a platform authenticator to create credentials and produce
// assertions, mapping platform failures onto a small closed set of error
// codes. Verify checks an assertion against a stored public key and the
// expected challenge and never returns an error: anything it cannot evaluate
// is a rejection. Descriptors are the per-user records persisted in the
// owner's ~/.passkeys file.
package passkey
