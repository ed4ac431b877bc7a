package registry

import (
	"errors"
	"testing"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0xABCdef", "0xabcdef"},
		{"  0XAbC  ", "0xabc"},
		{"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"},
		{"eDUwOTo6Q049YWxpY2U=", "eDUwOTo6Q049YWxpY2U="},
		{"cafe", "cafe"},
		{"x509::CN=doctor1,OU=client::CN=ca", "x509::CN=doctor1,OU=client::CN=ca"},
	}
	for _, tt := range tests {
		got, err := NormalizeAddress(tt.in)
		if err != nil {
			t.Errorf("NormalizeAddress(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeAddress_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "0x", "0xnothex", "two words", "tab\there", "nul\x00"} {
		if _, err := NormalizeAddress(in); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("NormalizeAddress(%q): expected ErrInvalidAddress, got %v", in, err)
		}
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0xABC", " 0xabc") {
		t.Error("expected case and whitespace to be ignored")
	}
	if SameAddress("0xabc", "0xabd") {
		t.Error("expected different addresses to differ")
	}
	if SameAddress("", "") {
		t.Error("expected invalid addresses never to match")
	}
}
