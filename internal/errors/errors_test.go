package errors

import (
	"fmt"
	"testing"
)

func TestCategoryChecks(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		validation bool
		retriable  bool
	}{
		{"plain not found", ErrNotFound, true, false, false},
		{"wrapped data source", fmt.Errorf("ensure: %w", ErrDataSourceNotFound), true, false, false},
		{"empty series types", ErrEmptySeriesTypes, false, true, false},
		{"invalid cursor", Wrap(ErrInvalidCursor, "decode"), false, true, false},
		{"missing field", NewMissingField("user_id"), false, true, false},
		{"conflict", ErrConflict, false, false, true},
		{"database", ErrDatabase, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation = %v, want %v", got, tt.validation)
			}
			if got := IsRetriable(tt.err); got != tt.retriable {
				t.Errorf("IsRetriable = %v, want %v", got, tt.retriable)
			}
		})
	}
}

func TestErrorToCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, CodeOK},
		{ErrSettingsNotFound, CodeNotFound},
		{ErrEmptySeriesTypes, CodeInvalidArgument},
		{Wrap(ErrUnsupportedSeriesType, "archive"), CodeUnsupported},
		{ErrTimeout, CodeTimeout},
		{ErrDatabase, CodeInternal},
	}

	for _, tt := range tests {
		if got := ErrorToCode(tt.err); got != tt.code {
			t.Errorf("ErrorToCode(%v) = %s, want %s", tt.err, CodeName(got), CodeName(tt.code))
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Fatal("empty collector should return nil")
	}

	v.AddMissing("user_id")
	v.AddField("device_model", "too long")
	v.Add(nil)

	if len(v.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(v.Errors))
	}

	err := v.Err()
	if !Is(err, ErrMissingField) {
		t.Error("expected errors.Is to find ErrMissingField")
	}
	if !Is(err, ErrInvalidArgument) {
		t.Error("expected errors.Is to find ErrInvalidArgument")
	}
	if !IsValidation(err) {
		t.Error("expected validation category")
	}
}
