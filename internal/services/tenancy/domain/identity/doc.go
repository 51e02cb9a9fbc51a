// Package identity models immutable entity identity and versioned,
// history-keeping properties.
//
// An identity is a non-empty set of named identifiers. Child entities derive
// their identifier deterministically from a predecessor identity, so replaying
// a stream always reproduces the same identity. Properties never overwrite a
// value in place: each change produces a new Version and the previous one is
// appended to the property's history.
package identity
