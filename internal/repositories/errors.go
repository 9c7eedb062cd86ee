package repositories

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	CounterErrorExhausted    CounterErrorCode = "counter_exhausted"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string { return e.Message }
func (e *CounterError) Unwrap() error { return e.Err }

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorRecordNotFound indicates the SKU does not have a stock record.
	InventoryErrorRecordNotFound InventoryErrorCode = "inventory_record_not_found"
	// InventoryErrorInvalidLine indicates a reserve or release line with a non-positive quantity.
	InventoryErrorInvalidLine InventoryErrorCode = "inventory_invalid_line"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Code    InventoryErrorCode
	Message string
	Err     error
}

func (e *InventoryError) Error() string { return e.Message }
func (e *InventoryError) Unwrap() error { return e.Err }

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{Code: code, Message: message, Err: err}
}
