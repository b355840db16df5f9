package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "unavailable"

	// Registry errors
	ErrCapacity           ErrorCode = "capacity_exceeded"
	ErrNameTooLong        ErrorCode = "name_too_long"
	ErrIndexOutOfRange    ErrorCode = "index_out_of_range"
	ErrNumericInstability ErrorCode = "numeric_instability"

	// Output errors
	ErrSinkUnavailable ErrorCode = "sink_unavailable"
	ErrPublish         ErrorCode = "publish_failed"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrBindFlags     ErrorCode = "bind_flags_failed"

	// Hardware errors
	ErrPinUnavailable ErrorCode = "pin_unavailable"

	// Storage errors
	ErrStorageInit   ErrorCode = "storage_init_failed"
	ErrStorageAccess ErrorCode = "storage_access_failed"
	ErrStorageClose  ErrorCode = "storage_close_failed"
	ErrSchema        ErrorCode = "schema_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidArgument:    "Invalid argument provided",
	ErrUnavailable:        "Value not available",
	ErrCapacity:           "Registry capacity exceeded",
	ErrNameTooLong:        "Name exceeds maximum length",
	ErrIndexOutOfRange:    "Index out of range",
	ErrNumericInstability: "Numerically unstable result",
	ErrSinkUnavailable:    "Output sink unavailable",
	ErrPublish:            "Failed to publish message",
	ErrTimeout:            "Operation timed out",
	ErrInvalidConfig:      "Invalid configuration",
	ErrReadConfig:         "Failed to read configuration",
	ErrBindFlags:          "Failed to bind flags",
	ErrPinUnavailable:     "Input pin unavailable",
	ErrStorageInit:        "Failed to initialize storage",
	ErrStorageAccess:      "Failed to access storage",
	ErrStorageClose:       "Failed to close storage",
	ErrSchema:             "Failed to prepare database schema",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
