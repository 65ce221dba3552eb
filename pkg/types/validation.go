package types

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var pinRegex = regexp.MustCompile(`^[0-9]{6}$`)

// PINLength is the number of digits in a join PIN.
const PINLength = 6

// ParseRole converts a path or query value into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDesktop, RoleMobile:
		return Role(s), nil
	default:
		return "", ErrInvalidRole
	}
}

// IsValidPIN checks the 6-digit numeric format.
func IsValidPIN(pin string) bool {
	return pinRegex.MatchString(pin)
}

// IsValidSessionID checks that id is a canonical UUID string.
func IsValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NormalizeOwnerName trims the name and enforces the 1-100 character limit.
func NormalizeOwnerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		return "", ErrInvalidOwnerName
	}
	return name, nil
}
