package helpers

import (
	"math/big"
	"testing"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   *big.Int
		decimals uint8
		want     string
	}{
		{"one btc", big.NewInt(100000000), 8, "1"},
		{"fraction", big.NewInt(1500000), 6, "1.5"},
		{"sub unit", big.NewInt(5), 6, "0.000005"},
		{"zero decimals", big.NewInt(42), 0, "42"},
		{"zero", big.NewInt(0), 18, "0"},
		{"nil", nil, 8, "0"},
		{"negative", big.NewInt(-250), 2, "-2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatUnits(tt.amount, tt.decimals)
			if got != tt.want {
				t.Errorf("FormatUnits = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"whole", "1", 8, "100000000", false},
		{"fraction", "69.475", 6, "69475000", false},
		{"leading dot", ".5", 2, "50", false},
		{"trailing zeros beyond precision", "1.5000000", 6, "1500000", false},
		{"too precise", "1.0000001", 6, "", true},
		{"empty", "", 8, "", true},
		{"letters", "1a", 8, "", true},
		{"negative", "-1", 8, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnits(tt.in, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseUnits(%q) expected error, got %s", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUnits(%q) error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseUnits(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestBTCRoundTrip(t *testing.T) {
	sats, err := BTCToSatoshis("0.001")
	if err != nil {
		t.Fatalf("BTCToSatoshis: %v", err)
	}
	if sats.Int64() != 100000 {
		t.Errorf("BTCToSatoshis = %d, want 100000", sats)
	}
	if got := SatoshisToBTC(sats); got != "0.001" {
		t.Errorf("SatoshisToBTC = %q, want 0.001", got)
	}
}

func TestHexToFixedBytes(t *testing.T) {
	if _, err := HexToFixedBytes("0x0102", 2); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := HexToFixedBytes("0102", 3); err == nil {
		t.Error("expected length error")
	}
	if _, err := HexToFixedBytes("zz", 1); err == nil {
		t.Error("expected decode error")
	}
}

func TestBytesToHex(t *testing.T) {
	if got := BytesToHex([]byte{0xde, 0xad}); got != "0xdead" {
		t.Errorf("BytesToHex = %q", got)
	}
	if got := StripHexPrefix("0Xbeef"); got != "beef" {
		t.Errorf("StripHexPrefix = %q", got)
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("GenerateSecureRandom: %v", err)
	}
	b, _ := GenerateSecureRandom(32)
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if ConstantTimeCompare(a, b) {
		t.Error("two random draws were equal")
	}
	Zero(a)
	if !IsZeroBytes(a) {
		t.Error("Zero did not clear the slice")
	}
}
