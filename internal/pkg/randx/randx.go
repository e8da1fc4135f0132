/*
Package randx generates room codes and session identifiers.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// MinRoomCode is the smallest valid room code.
	MinRoomCode = 1000

	// MaxRoomCode is the largest valid room code.
	MaxRoomCode = 9999

	// roomCodeSpan is the number of distinct room codes.
	roomCodeSpan = MaxRoomCode - MinRoomCode + 1
)

// RoomCode draws codes uniformly from [MinRoomCode, MaxRoomCode] until taken reports a
// free one. It fails once every code is in use.
func RoomCode(taken func(code int) bool) (int, error) {
	for attempt := 0; attempt < 4*roomCodeSpan; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(roomCodeSpan))
		if err != nil {
			return 0, fmt.Errorf("failed to generate random room code: %w", err)
		}

		code := MinRoomCode + int(n.Int64())
		if !taken(code) {
			return code, nil
		}
	}

	// Sampling is only this unlucky when nearly every code is live; fall back to a scan.
	for code := MinRoomCode; code <= MaxRoomCode; code++ {
		if !taken(code) {
			return code, nil
		}
	}
	return 0, fmt.Errorf("all %d room codes are in use", roomCodeSpan)
}

// IsValidRoomCode reports whether code lies in [MinRoomCode, MaxRoomCode].
func IsValidRoomCode(code int) bool {
	return code >= MinRoomCode && code <= MaxRoomCode
}

// SessionID returns a random UUID v4 identifying one connection's session.
func SessionID() string {
	return uuid.NewString()
}
