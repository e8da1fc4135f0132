/*
Package user holds the display-name rules shared by every connection: the default
name derived from a user id, and validation of names chosen by clients.

All functions are pure; untrusted input never produces an error, only a rejection.
*/
package user

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxNameLength is the longest accepted display name, in runes.
	MaxNameLength = 32

	// MaxRoomNameLength is the longest accepted room name, in runes.
	MaxRoomNameLength = 40
)

var (
	validate = validator.New()

	// defaultNamePattern matches names of the form produced by DefaultName. Clients may
	// not claim them, so one user can never impersonate another's default identity.
	defaultNamePattern = regexp.MustCompile(`^User #\d+$`)

	nameRule     = fmt.Sprintf("required,max=%d", MaxNameLength)
	roomNameRule = fmt.Sprintf("required,max=%d", MaxRoomNameLength)
)

// DefaultName returns the name a user carries until it picks a valid one.
func DefaultName(id int) string {
	return fmt.Sprintf("User #%d", id)
}

// RoomName returns the default name of a room created by someone called ownerName.
func RoomName(ownerName string) string {
	return ownerName + "'s room"
}

// ValidateName trims name and reports whether it is an acceptable display name:
// non-empty, at most MaxNameLength runes, printable, and not of the default-name form.
func ValidateName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if validate.Var(name, nameRule) != nil {
		return "", false
	}
	if defaultNamePattern.MatchString(name) || !printable(name) {
		return "", false
	}
	return name, true
}

// ValidateRoomName trims name and reports whether it is an acceptable room name.
func ValidateRoomName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if validate.Var(name, roomNameRule) != nil || !printable(name) {
		return "", false
	}
	return name, true
}

// NameOrDefault returns the validated form of desired, or DefaultName(id) when desired
// is unusable.
func NameOrDefault(id int, desired string) string {
	if name, ok := ValidateName(desired); ok {
		return name
	}
	return DefaultName(id)
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
