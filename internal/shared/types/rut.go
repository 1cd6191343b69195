package types

import (
	"fmt"
	"regexp"
	"strings"
)

// RUT represents a Chilean national identification number.
// Canonical format: digits, hyphen, check digit (e.g. "18444840-8"),
// where the check digit is 0-9 or K, computed with the Mod 11 algorithm.
type RUT string

var rutRegex = regexp.MustCompile(`^\d{1,8}-[\dkK]$`)

// ParseRUT validates and normalizes a RUT string
func ParseRUT(s string) (RUT, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(s, ".", ""))
	if !rutRegex.MatchString(normalized) {
		return "", fmt.Errorf("RUT must look like 12345678-9")
	}

	rut := RUT(normalized)
	if !rut.IsValid() {
		return "", fmt.Errorf("invalid RUT check digit")
	}

	return rut, nil
}

// String returns the string representation
func (r RUT) String() string {
	return string(r)
}

// Masked returns a masked version for display (last four digits hidden)
func (r RUT) Masked() string {
	body, _, ok := strings.Cut(string(r), "-")
	if !ok || len(body) <= 4 {
		return "********"
	}
	return body[:len(body)-4] + "****-*"
}

// IsValid validates the RUT check digit
func (r RUT) IsValid() bool {
	body, check, ok := strings.Cut(string(r), "-")
	if !ok || body == "" {
		return false
	}

	// Mod 11 with weights 2..7 cycling from the rightmost digit
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}

	expected := 11 - sum%11
	switch expected {
	case 11:
		return check == "0"
	case 10:
		return check == "K" || check == "k"
	default:
		return check == fmt.Sprintf("%d", expected)
	}
}

// IsZero checks if the RUT is empty
func (r RUT) IsZero() bool {
	return r == ""
}
