package errors

import sterrors "errors"

var (
	ErrTimeout        = sterrors.New("p4flow: timed out waiting for a stream message")
	ErrClosed         = sterrors.New("p4flow: stream router stopped")
	ErrStreamFailed   = sterrors.New("p4flow: stream read failed")
	ErrAlreadyStarted = sterrors.New("p4flow: stream router already started")
	ErrUnknownKind    = sterrors.New("p4flow: unknown stream message kind")
	ErrSourceRequired = sterrors.New("p4flow: stream source is required")
	ErrUnknownState   = sterrors.New("p4flow: unknown stream router state")
	ErrSenderRequired = sterrors.New("p4flow: stream sender is required")
	ErrDigestRequired = sterrors.New("p4flow: digest list is required")

	ErrConfigRequired       = sterrors.New("p4flow: configuration is required")
	ErrLoggerRequired       = sterrors.New("p4flow: logger is required")
	ErrPublisherRequired    = sterrors.New("p4flow: publisher is required")
	ErrTopicRequired        = sterrors.New("p4flow: topic is required")
	ErrSubscriptionRequired = sterrors.New("p4flow: subscription is required")
)

// ConfigValidationError wraps the joined problems reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "p4flow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
