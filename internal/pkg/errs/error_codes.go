/*
Package errs provides the application's error types and error code constants.

Protocol errors are raised for bad input from a single connection (unknown events,
missing fields, membership failures, bulk-init misuse, throttling). They are logged and
the offending message is dropped; the connection stays open.
*/
package errs

// 1xxx: Inbound message errors
const (
	// ErrInvalidJSONFormat indicates that a text frame was not a valid JSON envelope.
	ErrInvalidJSONFormat = 1003

	// ErrRateLimitExceeded indicates that the sender is currently throttled.
	ErrRateLimitExceeded = 1007

	// ErrUnknownEvent indicates that the envelope named an event the server does not accept.
	ErrUnknownEvent = 1101

	// ErrMissingField indicates that a required envelope field was absent.
	ErrMissingField = 1102

	// ErrFieldType indicates that an envelope field had the wrong primitive type.
	ErrFieldType = 1103

	// ErrMalformedFrame indicates that a binary frame was too short or not int16 aligned.
	ErrMalformedFrame = 1104

	// ErrHandshakeRequired indicates that a room event arrived before connectInit.
	ErrHandshakeRequired = 1105

	// ErrAlreadyInitialized indicates a second connectInit on the same connection.
	ErrAlreadyInitialized = 1106
)

// 2xxx: Room errors
const (
	// ErrRoomNotFound indicates that the room code does not resolve to a live room.
	ErrRoomNotFound = 2103

	// ErrNotRoomMember indicates that the sender is not a member of the addressed room.
	ErrNotRoomMember = 2105

	// ErrInvalidRoomName indicates that a room rename carried an unusable name.
	ErrInvalidRoomName = 2106

	// ErrBulkInitMisuse indicates bulk-init data from a sender no pending joiner is waiting on.
	ErrBulkInitMisuse = 2301
)

// 3xxx: Session errors
const (
	// ErrResumeTokenInvalid indicates that a resume token failed verification or its session expired.
	ErrResumeTokenInvalid = 3005
)

// 5xxx: Internal errors
const (
	// ErrUnknown represents an unclassified server error.
	ErrUnknown = 5000
)
