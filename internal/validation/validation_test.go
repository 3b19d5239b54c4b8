package validation

import (
	"strings"
	"testing"

	"github.com/xtxerr/vitals/internal/errors"
)

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		rules   TextRules
		wantErr bool
	}{
		{"simple source", "com.apple.health", SourceRules(), false},
		{"unicode model", "Forerunner® 965", DeviceModelRules(), false},
		{"empty model allowed", "", DeviceModelRules(), false},
		{"empty source rejected", "", SourceRules(), true},
		{"control char", "a\x00b", SourceRules(), true},
		{"delete char", "a\x7fb", SourceRules(), true},
		{"too long", strings.Repeat("x", 256), SourceRules(), true},
		{"invalid utf8", "\xff\xfe", SourceRules(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText("field", tt.input, tt.rules)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateText(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentity(t *testing.T) {
	if err := ValidateIdentity("Apple Watch Series 9", "com.apple.health", "10.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := ValidateIdentity("bad\x01model", "", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected missing source, got %v", err)
	}
	if !errors.IsValidation(err) {
		t.Errorf("expected validation category, got %v", err)
	}
}

func TestSetMaxIdentityLength(t *testing.T) {
	t.Cleanup(func() { SetMaxIdentityLength(0) })

	SetMaxIdentityLength(8)
	if err := ValidateText("source", "com.apple.health", SourceRules()); err == nil {
		t.Error("expected length error with max 8")
	}

	SetMaxIdentityLength(0)
	if MaxIdentityLength() != 255 {
		t.Errorf("MaxIdentityLength = %d after reset", MaxIdentityLength())
	}
	if err := ValidateText("source", "com.apple.health", SourceRules()); err != nil {
		t.Errorf("unexpected error after reset: %v", err)
	}
}
