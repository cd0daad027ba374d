package security

import (
	"strings"

	"github.com/mirastream/streaming-platform-auth/internal/core/port"
)

const (
	defaultMinPasswordLength   = 10
	defaultMinCharacterClasses = 3
	defaultMinZxcvbnScore      = 3
)

// PasswordPolicy enforces the service password policy: length, character
// classes, and a zxcvbn strength floor that accounts for user-derived
// inputs like the email address.
type PasswordPolicy struct {
	minLength  int
	minClasses int
	minScore   int
}

// NewPasswordPolicy builds the default policy.
func NewPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		minLength:  defaultMinPasswordLength,
		minClasses: defaultMinCharacterClasses,
		minScore:   defaultMinZxcvbnScore,
	}
}

// Validate applies the policy rules, passing user inputs to the strength
// check so passwords derived from identity fields score poorly.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	inputs := make([]string, 0, len(userInputs))
	for _, input := range userInputs {
		if trimmed := strings.TrimSpace(input); trimmed != "" {
			inputs = append(inputs, trimmed)
		}
	}

	validator := NewPasswordValidator(
		MinLengthRule(p.minLength),
		RequireCharacterClassesRule(p.minClasses),
		RequirePasswordStrengthRule(p.minScore, inputs...),
	)
	return validator.Validate(password)
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
