// Package auth authenticates learners and instructors and scopes storage
// access to the caller's own projects.
//
// Authentication uses a chain of authenticators with three-outcome
// voting: each returns Yes (identity found), No (credentials invalid), or
// Abstain (cannot handle). A default decision applies when all abstain.
//
// The middleware injects the identity into the request context and sets
// the storage tenant to the identity's owner key, so a learner only ever
// sees their own projects. Identities holding the instructor scope are
// not scoped and can read every project.
package auth
