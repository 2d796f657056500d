package tracking

import "errors"

var (
	// ErrDeviceNotFound indicates an unknown device key.
	ErrDeviceNotFound = errors.New("tracking: device not found")
	// ErrInvalidPayload indicates a sample that failed validation.
	ErrInvalidPayload = errors.New("tracking: invalid payload")
)

// Payload rejection reasons, used as metric labels.
const (
	ReasonInvalidJSON      = "invalid_json"
	ReasonMissingLatitude  = "missing_latitude"
	ReasonMissingLongitude = "missing_longitude"
	ReasonOutOfRange       = "out_of_range"
)

// PayloadError describes why a sample was rejected.
type PayloadError struct {
	Reason string
	Detail string
}

func (e *PayloadError) Error() string {
	if e.Detail == "" {
		return "tracking: invalid payload: " + e.Reason
	}
	return "tracking: invalid payload: " + e.Reason + ": " + e.Detail
}

// Is makes PayloadError match ErrInvalidPayload.
func (e *PayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// ReasonOf returns the rejection reason of err, or "" if err is not a PayloadError.
func ReasonOf(err error) string {
	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return payloadErr.Reason
	}
	return ""
}
