// Package room generates room codes and maps them to transport subjects.
package room

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CodeLength is the number of characters in a room code.
	CodeLength = 4
	// CodeChars excludes I, O, L, V, U, 0 and 1, which are easy to misread.
	CodeChars = "ABCDEFGHJKMNPQRSTWXYZ23456789"

	subjectPrefix    = "wordparty"
	DirectorySubject = subjectPrefix + ".directory"
)

var ErrInvalidCode = errors.New("invalid room code")

// NewCode returns a random room code.
func NewCode() (string, error) {
	code := make([]byte, CodeLength)
	limit := big.NewInt(int64(len(CodeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = CodeChars[n.Int64()]
	}
	return string(code), nil
}

// NewUniqueCode draws codes until taken reports one as free.
func NewUniqueCode(taken func(code string) bool) (string, error) {
	for {
		code, err := NewCode()
		if err != nil {
			return "", err
		}
		if taken == nil || !taken(code) {
			return code, nil
		}
	}
}

// NormalizeCode upper-cases and trims a user-entered code and checks it
// against the alphabet. It says nothing about whether the room exists:
// joining an unknown code simply opens an empty room.
func NormalizeCode(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != CodeLength {
		return "", fmt.Errorf("%w: %q must be %d characters", ErrInvalidCode, s, CodeLength)
	}
	for _, c := range code {
		if !strings.ContainsRune(CodeChars, c) {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidCode, s, c)
		}
	}
	return code, nil
}

// EventsSubject carries the room's broadcast messages.
func EventsSubject(code string) string {
	return subjectPrefix + ".room." + code + ".events"
}

// PresenceSubject carries the room's presence beacons.
func PresenceSubject(code string) string {
	return subjectPrefix + ".room." + code + ".presence"
}
