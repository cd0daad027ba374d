package port

// PasswordHasher hashes and verifies secrets using the configured
// algorithm. The primitive itself is pluggable; only this contract is
// part of the core.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// PasswordPolicyValidator enforces password strength requirements at
// registration and password change.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}
