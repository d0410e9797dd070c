package util

import (
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("NUTRINEST_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("NUTRINEST_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("NUTRINEST_TEST_INT", " 42 ")
	if got := ParseIntEnv("NUTRINEST_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("NUTRINEST_TEST_INT", "forty")
	if got := ParseIntEnv("NUTRINEST_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("NUTRINEST_TEST_STR", "   ")
	if got := GetEnv("NUTRINEST_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("blank value should fall back, got %q", got)
	}
	t.Setenv("NUTRINEST_TEST_STR", "value")
	if got := GetEnv("NUTRINEST_TEST_STR", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
}

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+91 98765-43210", "919876543210", false},
		{"whatsapp:+14155550123", "14155550123", false},
		{"WhatsApp:+14155550123", "14155550123", false},
		{"919876543210@s.whatsapp.net", "919876543210", false},
		{"", "", true},
		{"abc", "", true},
		{"+123", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalPhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CanonicalPhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
