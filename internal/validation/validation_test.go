package validation

import (
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"prj_0123456789abcdef01234567", true},
		{"off_aaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"txn_ffffffffffffffffffffffff", true},

		// Invalid cases
		{"0123456789abcdef01234567", false},       // no prefix
		{"prj_0123456789abcdef0123456", false},    // too short
		{"prj_0123456789abcdef012345678", false},  // too long
		{"prj_0123456789ABCDEF01234567", false},   // uppercase hex
		{"project_0123456789abcdef01234567", false},
		{"", false},
		{"prj_", false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("title", "Half-built CRM"),
		PositiveCents("priceCents", 50000),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("title", ""),
		PositiveCents("priceCents", -100),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestPositiveCents(t *testing.T) {
	tests := []struct {
		value int64
		valid bool
	}{
		{100, true},
		{1, true},
		{0, false},
		{-1, false},
	}

	for _, tc := range tests {
		err := PositiveCents("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("PositiveCents(%d) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
