package model

import "time"

// StatusCode is one checkpoint in a request's audit trail.
type StatusCode string

const (
	StatusStart   StatusCode = "Start"
	StatusFailed  StatusCode = "Failed"
	StatusSuccess StatusCode = "Success"

	StatusValidateArgs       StatusCode = "ValidateArgs"
	StatusValidateArgsFailed StatusCode = "ValidateArgsFailed"

	StatusVerifyToken0        StatusCode = "VerifyToken0"
	StatusVerifyToken0Success StatusCode = "VerifyToken0Success"
	StatusVerifyToken0Failed  StatusCode = "VerifyToken0Failed"
	StatusVerifyToken1        StatusCode = "VerifyToken1"
	StatusVerifyToken1Success StatusCode = "VerifyToken1Success"
	StatusVerifyToken1Failed  StatusCode = "VerifyToken1Failed"

	StatusPoolLookup       StatusCode = "PoolLookup"
	StatusPoolLookupFailed StatusCode = "PoolLookupFailed"

	StatusCalculatePoolAmounts        StatusCode = "CalculatePoolAmounts"
	StatusCalculatePoolAmountsSuccess StatusCode = "CalculatePoolAmountsSuccess"
	StatusCalculatePoolAmountsFailed  StatusCode = "CalculatePoolAmountsFailed"

	StatusUpdatePoolAmounts        StatusCode = "UpdatePoolAmounts"
	StatusUpdatePoolAmountsSuccess StatusCode = "UpdatePoolAmountsSuccess"
	StatusUpdatePoolAmountsFailed  StatusCode = "UpdatePoolAmountsFailed"

	StatusUpdateLPBalance        StatusCode = "UpdateLPBalance"
	StatusUpdateLPBalanceSuccess StatusCode = "UpdateLPBalanceSuccess"
	StatusUpdateLPBalanceFailed  StatusCode = "UpdateLPBalanceFailed"

	StatusSendToken0        StatusCode = "SendToken0"
	StatusSendToken0Success StatusCode = "SendToken0Success"
	StatusSendToken0Failed  StatusCode = "SendToken0Failed"
	StatusSendToken1        StatusCode = "SendToken1"
	StatusSendToken1Success StatusCode = "SendToken1Success"
	StatusSendToken1Failed  StatusCode = "SendToken1Failed"

	StatusReturnToken0        StatusCode = "ReturnToken0"
	StatusReturnToken0Success StatusCode = "ReturnToken0Success"
	StatusReturnToken0Failed  StatusCode = "ReturnToken0Failed"
	StatusReturnToken1        StatusCode = "ReturnToken1"
	StatusReturnToken1Success StatusCode = "ReturnToken1Success"
	StatusReturnToken1Failed  StatusCode = "ReturnToken1Failed"

	StatusClaimToken0 StatusCode = "ClaimToken0"
	StatusClaimToken1 StatusCode = "ClaimToken1"

	StatusClaimProcessing StatusCode = "ClaimProcessing"
	StatusClaimSuccess    StatusCode = "ClaimSuccess"
	StatusClaimFailed     StatusCode = "ClaimFailed"
)

// StatusEntry is a durable checkpoint appended before the matching side effect runs.
type StatusEntry struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message,omitempty"`
	At      time.Time  `json:"at"`
}

// tokenStatus picks the side-specific code for token index 0 or 1.
func tokenStatus(side int, zero, one StatusCode) StatusCode {
	if side == 0 {
		return zero
	}
	return one
}

// VerifyStatus returns the verify checkpoint codes for a side.
func VerifyStatus(side int) (start, success, failed StatusCode) {
	return tokenStatus(side, StatusVerifyToken0, StatusVerifyToken1),
		tokenStatus(side, StatusVerifyToken0Success, StatusVerifyToken1Success),
		tokenStatus(side, StatusVerifyToken0Failed, StatusVerifyToken1Failed)
}

// SendStatus returns the outbound payment checkpoint codes for a side.
func SendStatus(side int) (start, success, failed StatusCode) {
	return tokenStatus(side, StatusSendToken0, StatusSendToken1),
		tokenStatus(side, StatusSendToken0Success, StatusSendToken1Success),
		tokenStatus(side, StatusSendToken0Failed, StatusSendToken1Failed)
}

// ReturnStatus returns the refund checkpoint codes for a side.
func ReturnStatus(side int) (start, success, failed StatusCode) {
	return tokenStatus(side, StatusReturnToken0, StatusReturnToken1),
		tokenStatus(side, StatusReturnToken0Success, StatusReturnToken1Success),
		tokenStatus(side, StatusReturnToken0Failed, StatusReturnToken1Failed)
}

// ClaimStatusCode returns the claim checkpoint code for a side.
func ClaimStatusCode(side int) StatusCode {
	return tokenStatus(side, StatusClaimToken0, StatusClaimToken1)
}
