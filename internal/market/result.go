package market

// Code identifies the outcome of a public operation.
type Code string

const (
	CodeOK Code = "OK"

	CodeInvalidParameter Code = "INVALID_PARAMETER"

	CodeProductNotFound           Code = "PRODUCT_NOT_FOUND"
	CodeProductNotAvailable       Code = "PRODUCT_NOT_AVAILABLE"
	CodeCantBuyOwnProduct         Code = "CANT_BUY_OWN_PRODUCT"
	CodeUpdateProductStatusFailed Code = "UPDATE_PRODUCT_STATUS_FAILED"

	CodeOrderCreateFailed      Code = "ORDER_CREATE_FAILED"
	CodeOrderNotFound          Code = "ORDER_NOT_FOUND"
	CodeOrderPermissionDenied  Code = "ORDER_PERMISSION_DENIED"
	CodeOrderStatusInvalid     Code = "ORDER_STATUS_INVALID"
	CodeOrderStatusConflict    Code = "ORDER_STATUS_CONFLICT"
	CodeOrderAmountMismatch    Code = "ORDER_AMOUNT_MISMATCH"
	CodeOrderAdvancePartial    Code = "ORDER_ADVANCE_PARTIAL"
	CodeOrderCancelPartial     Code = "ORDER_CANCEL_PARTIAL"
	CodeOrderAlreadyReviewed   Code = "ORDER_ALREADY_REVIEWED"
	CodeReturnWindowExpired    Code = "RETURN_WINDOW_EXPIRED"
	CodeReturnAlreadyRequested Code = "RETURN_ALREADY_REQUESTED"
	CodeRejectReasonRequired   Code = "REJECT_REASON_REQUIRED"

	CodePaymentNotFound         Code = "PAYMENT_NOT_FOUND"
	CodePaymentAlreadyProcessed Code = "PAYMENT_ALREADY_PROCESSED"
	CodePaymentTimeout          Code = "PAYMENT_TIMEOUT"
	CodePaymentPasswordError    Code = "PAYMENT_PASSWORD_ERROR"
	CodePaymentNotExpired       Code = "PAYMENT_NOT_EXPIRED"

	CodeSimulateRefundFailed Code = "SIMULATE_REFUND_FAILED"

	CodeSystemError Code = "SYSTEM_ERROR"
)

// Result is the value every public operation returns instead of an error.
// Data may be populated on failure for batch operations that report counts.
type Result struct {
	OK      bool           `json:"success"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Succeed builds a successful result carrying data.
func Succeed(message string, data map[string]any) Result {
	return Result{OK: true, Code: CodeOK, Message: message, Data: data}
}

// Fail builds a failed result.
func Fail(code Code, message string) Result {
	return Result{Code: code, Message: message}
}

// WithData attaches data to a result and returns it.
func (r Result) WithData(data map[string]any) Result {
	r.Data = data
	return r
}

// SystemError is the result reported for unexpected failures.
func SystemError() Result {
	return Fail(CodeSystemError, "internal error, please retry later")
}
