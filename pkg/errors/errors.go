package errors

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Land runtime errors surfaced by the keeper, adapter and router.
var (
	// ErrAlreadyJoined is returned when a session joins a land it is already in.
	ErrAlreadyJoined = errors.New("session already joined")
	// ErrNotJoined is returned when a client event arrives before a successful join.
	ErrNotJoined = errors.New("session not joined")
	// ErrUnregisteredEvent is returned when an event type has no registered handler.
	ErrUnregisteredEvent = errors.New("unregistered event type")
	// ErrMismatchedLand is returned when a join targets a different land type.
	ErrMismatchedLand = errors.New("mismatched land")
	// ErrAlreadyBound is returned when a bound session sends a join for another land.
	ErrAlreadyBound = errors.New("session already bound to a land")
	// ErrJoinTimeout is returned when the join handshake exceeds the configured window.
	ErrJoinTimeout = errors.New("join timed out")
	// ErrLandNotFound is returned when a land id resolves to no container.
	ErrLandNotFound = errors.New("land not found")
	// ErrUnknownLandType is returned when a join names a land type with no definition.
	ErrUnknownLandType = errors.New("unknown land type")
	// ErrLandFatal is returned when a rule panics; the land is torn down.
	ErrLandFatal = errors.New("land fatal error")
)

// Codec errors.
var (
	// ErrInvalidOpcode is returned when a frame carries an unknown opcode.
	ErrInvalidOpcode = errors.New("invalid opcode")
	// ErrMalformedArray is returned when an opcode array is too short or mistyped.
	ErrMalformedArray = errors.New("malformed opcode array")
	// ErrUnknownKind is returned when an object frame carries an unknown kind.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrCodecMismatch is returned when a body cannot be re-encoded for bundling.
	ErrCodecMismatch = errors.New("codec mismatch")
)

// DI container errors.
var (
	// ErrInterfaceMustBePointer is returned when a non-pointer interface is registered.
	ErrInterfaceMustBePointer = errors.New("interface must be a pointer type")
	// ErrMockDoesNotImplement is returned when a mock does not implement the interface.
	ErrMockDoesNotImplement = errors.New("mock does not implement interface")
	// ErrTargetMustBePointer is returned when a non-pointer target is passed to Resolve.
	ErrTargetMustBePointer = errors.New("target must be a pointer")
	// ErrNoFactoryRegistered is returned when no factory is registered for a type.
	ErrNoFactoryRegistered = errors.New("no factory registered")
	// ErrFactoryFailed is returned when the factory fails to create an instance.
	ErrFactoryFailed = errors.New("factory failed to create instance")
)

// Auth errors.
var (
	// ErrInvalidToken is returned when a token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a token has expired.
	ErrTokenExpired = errors.New("token expired")
)

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.New(msg + ": " + err.Error())
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// LogWithError logs the error with context and returns a wrapped error. Use this for standardized error logging across services.
func LogWithError(ctx context.Context, log *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if log != nil {
		if ctx != nil {
			if reqID, ok := ctx.Value("request_id").(string); ok && reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
		}
		log.Error(msg, append(fields, zap.Error(err))...)
	}
	return Wrap(err, msg)
}
