package errs

import "net/http"

// errorMap holds the message template and HTTP status for every error code.
// Templates containing a verb are formatted with the details passed to NewError.
var errorMap = map[int]CustomError{
	ErrInvalidJSONFormat:  {Code: ErrInvalidJSONFormat, Message: "Message is not a valid JSON event."},
	ErrRateLimitExceeded:  {Code: ErrRateLimitExceeded, Message: "Too many messages. Please slow down.", Status: http.StatusTooManyRequests},
	ErrUnknownEvent:       {Code: ErrUnknownEvent, Message: "Unrecognized event %q."},
	ErrMissingField:       {Code: ErrMissingField, Message: "Event %q is missing required field %q."},
	ErrFieldType:          {Code: ErrFieldType, Message: "Event %q field %q must be a %s."},
	ErrMalformedFrame:     {Code: ErrMalformedFrame, Message: "Malformed binary frame of %d bytes."},
	ErrHandshakeRequired:  {Code: ErrHandshakeRequired, Message: "Event %q requires a completed handshake."},
	ErrAlreadyInitialized: {Code: ErrAlreadyInitialized, Message: "Connection already completed its handshake."},

	ErrRoomNotFound:    {Code: ErrRoomNotFound, Message: "Room %d does not exist."},
	ErrNotRoomMember:   {Code: ErrNotRoomMember, Message: "User #%d is not a member of room %d."},
	ErrInvalidRoomName: {Code: ErrInvalidRoomName, Message: "Invalid room name."},
	ErrBulkInitMisuse:  {Code: ErrBulkInitMisuse, Message: "User #%d sent bulk-init data to room %d but no joiner is waiting on it."},

	ErrResumeTokenInvalid: {Code: ErrResumeTokenInvalid, Message: "Session can no longer be resumed."},

	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong.", Status: http.StatusInternalServerError},
}
