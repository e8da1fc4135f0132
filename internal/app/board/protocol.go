package board

import (
	"encoding/binary"

	"inkroom/internal/pkg/errs"
)

// Mode sentinels carried in the second int16 of a binary frame. Non-negative modes are
// brush-state flags of ordinary position data.
const (
	ModeBulkInit int16 = -1
	ModeErase    int16 = -2
	ModeUndo     int16 = -3
	ModeRedo     int16 = -4
)

// frameHeaderSize is the room code plus the mode, two int16 each.
const frameHeaderSize = 4

// Frames are little-endian int16 arrays, the layout a browser Int16Array produces.
var wireOrder = binary.LittleEndian

// parseFrame reads the room code and mode of a client binary frame.
func parseFrame(data []byte) (room int, mode int16, err error) {
	if len(data) < frameHeaderSize || len(data)%2 != 0 {
		return 0, 0, errs.NewError(errs.ErrMalformedFrame, len(data))
	}
	room = int(int16(wireOrder.Uint16(data[0:2])))
	mode = int16(wireOrder.Uint16(data[2:4]))
	return room, mode, nil
}

// prependID returns a new frame holding id as its first int16 followed by data.
func prependID(id int, data []byte) []byte {
	out := make([]byte, 2+len(data))
	wireOrder.PutUint16(out[0:2], uint16(int16(id)))
	copy(out[2:], data)
	return out
}
