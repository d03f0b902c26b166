package adapter

import (
	"context"
)

// PaymentGateway is the hex port for the mobile-money provider. Push is the
// synchronous half of the contract: it either returns a correlation id
// (CheckoutRequestID) or an error. Settlement arrives later through the
// asynchronous callback, 0..N times, in any order.
type PaymentGateway interface {
	Name() string

	// Push sends an STK push prompt to the phone. The returned checkout
	// request id correlates the eventual callback with the ledger entry.
	Push(ctx context.Context, phone string, amount int64, accountRef, description string) (checkoutRequestID string, err error)
}

// CallbackResult is the provider-agnostic shape of one settlement callback,
// extracted from the gateway's nested webhook envelope at the HTTP boundary.
type CallbackResult struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string // gateway receipt id, present only on success
}

// Gateway result codes the reconciler branches on.
const (
	ResultSuccess           = 0
	ResultInsufficientFunds = 1
	ResultCancelledByUser   = 1032
	ResultWrongPIN          = 2001
	ResultTransient         = 2029 // temporary gateway error, retried
)

var resultMessages = map[int]string{
	ResultSuccess:           "Success. Payment completed successfully.",
	ResultInsufficientFunds: "Insufficient balance on your M-Pesa account.",
	ResultCancelledByUser:   "Payment cancelled by user.",
	ResultWrongPIN:          "Wrong PIN or PIN entry timeout.",
	ResultTransient:         "Payment failed due to a temporary M-Pesa error. Please try again later.",
}

const resultMessageDefault = "Payment failed due to an unknown error. Please retry or contact support."

// ResultMessage maps a gateway result code to a user-facing message. For
// unrecognized codes it prefers the gateway's own description and falls back
// to a generic message when that too is empty.
func ResultMessage(code int, gatewayDesc string) string {
	if msg, ok := resultMessages[code]; ok {
		return msg
	}
	if gatewayDesc != "" {
		return gatewayDesc
	}
	return resultMessageDefault
}
