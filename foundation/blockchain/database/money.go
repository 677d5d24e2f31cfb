package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit represents an amount of currency in minimal units. Amounts are
// serialized as decimal strings so no JSON reader can round them through a
// float. They must be treated as exact integers end to end.
type Unit uint64

// MarshalJSON implements the json.Marshaler interface.
func (u Unit) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. Bare numbers are
// accepted for hand written fixtures like the genesis file.
func (u *Unit) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}

	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}

	*u = Unit(v)
	return nil
}

// =============================================================================

// AccountID represents an address that owns outputs on the blockchain. It is
// always derived from a public key, never supplied by a caller.
type AccountID string

// ToAccountID converts a hex-encoded string to an account id and validates
// the hex-encoded string is formatted correctly.
func ToAccountID(hex string) (AccountID, error) {
	a := AccountID(hex)
	if !a.IsAccountID() {
		return "", fmt.Errorf("invalid account format: %q", hex)
	}

	return a, nil
}

// IsAccountID verifies whether the underlying data represents a valid
// hex-encoded account.
func (a AccountID) IsAccountID() bool {
	const addressLength = 20

	if has0xPrefix(a) {
		a = a[2:]
	}

	return len(a) == 2*addressLength && isHex(a)
}

// =============================================================================

// has0xPrefix validates the account starts with a 0x.
func has0xPrefix(a AccountID) bool {
	return len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X')
}

// isHex validates whether each byte is a valid hexadecimal character.
func isHex(a AccountID) bool {
	if len(a)%2 != 0 {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
