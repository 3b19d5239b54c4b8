// Package validation provides centralized input validation for vitals.
package validation

import (
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"github.com/xtxerr/vitals/config"
	"github.com/xtxerr/vitals/internal/errors"
)

// =============================================================================
// Identity Text Validation
// =============================================================================

var maxIdentityLength atomic.Int64

func init() {
	maxIdentityLength.Store(config.DefaultMaxIdentityLength)
}

// SetMaxIdentityLength changes the maximum length of identity strings.
// n <= 0 restores the default.
func SetMaxIdentityLength(n int) {
	if n <= 0 {
		n = config.DefaultMaxIdentityLength
	}
	maxIdentityLength.Store(int64(n))
}

// MaxIdentityLength returns the maximum length of identity strings.
func MaxIdentityLength() int {
	return int(maxIdentityLength.Load())
}

// TextRules defines the validation rules for free-text identity fields.
type TextRules struct {
	MinLength int
	MaxLength int
}

// DeviceModelRules returns the rules for device model strings.
// An empty device model is allowed: software-only sources have no hardware.
func DeviceModelRules() TextRules {
	return TextRules{
		MinLength: 0,
		MaxLength: MaxIdentityLength(),
	}
}

// SourceRules returns the rules for source strings.
func SourceRules() TextRules {
	return TextRules{
		MinLength: 1,
		MaxLength: MaxIdentityLength(),
	}
}

// ValidateText validates a free-text value according to the given rules.
func ValidateText(field, value string, rules TextRules) error {
	if !utf8.ValidString(value) {
		return errors.NewValidation(field, "not valid UTF-8")
	}

	n := utf8.RuneCountInString(value)
	if n < rules.MinLength {
		if rules.MinLength == 1 {
			return errors.NewMissingField(field)
		}
		return errors.NewValidation(field, fmt.Sprintf("minimum %d characters required", rules.MinLength))
	}
	if rules.MaxLength > 0 && n > rules.MaxLength {
		return errors.NewValidation(field, fmt.Sprintf("maximum %d characters allowed", rules.MaxLength))
	}

	for i, r := range value {
		if r < 32 || r == 127 {
			return errors.NewValidation(field, fmt.Sprintf("control character at position %d", i))
		}
	}

	return nil
}

// ValidateIdentity validates the free-text parts of a data source identity.
func ValidateIdentity(deviceModel, source, softwareVersion string) error {
	errs := errors.NewValidationErrors()
	errs.Add(ValidateText("device_model", deviceModel, DeviceModelRules()))
	errs.Add(ValidateText("source", source, SourceRules()))
	errs.Add(ValidateText("software_version", softwareVersion, DeviceModelRules()))
	return errs.Err()
}
