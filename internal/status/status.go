// Package status defines the status words returned by the signer and the
// typed error that carries them through the core packages.
package status

import (
	"errors"
	"fmt"
)

// Code is a two byte status word.
type Code uint16

const (
	OK Code = 0x9000

	// Protocol
	CodeOpNotPermitted   Code = 0x4000
	CodeOpUserRequired   Code = 0x4001
	CodeWrongInputLength Code = 0x4002
	CodeTransactionState Code = 0x4003
	CodeUnknown          Code = 0x4444

	// Range
	CodeVarintDataRange         Code = 0x6000
	CodeOutOfRange              Code = 0x6001
	CodeTxInputOutputOutOfRange Code = 0x6002
	CodeTxAmount                Code = 0x6003
	CodeTxSize                  Code = 0x6004
	CodeBadClass                Code = 0x6E00
	CodeBadInstruction          Code = 0x6D00
	CodeConditionsNotSatisfied  Code = 0x6985

	// Storage
	CodeNVRAMRead  Code = 0x9100
	CodeNVRAMWrite Code = 0x9101

	// Wallet
	CodePrivateSpend Code = 0x9400
	CodePrivateView  Code = 0x9401
	CodeResetKeys    Code = 0x9402
	CodeAddress      Code = 0x9450
	CodeBase58       Code = 0x9460

	// Cryptography
	CodeKeyDerivation      Code = 0x9500
	CodeDerivePubkey       Code = 0x9501
	CodePubkeyMismatch     Code = 0x9502
	CodeDeriveSeckey       Code = 0x9503
	CodeKeccak             Code = 0x9504
	CodeCompleteRingSig    Code = 0x9505
	CodeGenerateKeyImage   Code = 0x9506
	CodeSeckeyToPubkey     Code = 0x9507
	CodeGenerateRingSigs   Code = 0x9508
	CodeGenerateSignature  Code = 0x9509
	CodePrivateToPublic    Code = 0x9510
	CodeGeFromBytesVartime Code = 0x9511
	CodeCheckSignature     Code = 0x9512
	CodeCheckRingSigs      Code = 0x9513

	// Transaction
	CodeTxInit           Code = 0x9600
	CodeTxLoadInput      Code = 0x9601
	CodeTxLoadOutput     Code = 0x9602
	CodeTxFinalizePrefix Code = 0x9603
	CodeTxSign           Code = 0x9604
	CodeTxDump           Code = 0x9605
	CodeTxReset          Code = 0x9606
)

var codeNames = map[Code]string{
	OK:                          "ok",
	CodeOpNotPermitted:          "operation not permitted",
	CodeOpUserRequired:          "user confirmation required",
	CodeWrongInputLength:        "wrong input length",
	CodeTransactionState:        "invalid transaction state",
	CodeUnknown:                 "unknown error",
	CodeVarintDataRange:         "varint out of range",
	CodeOutOfRange:              "value out of range",
	CodeTxInputOutputOutOfRange: "input or output count out of range",
	CodeTxAmount:                "invalid transaction amount",
	CodeTxSize:                  "transaction exceeds maximum size",
	CodeBadClass:                "class not supported",
	CodeBadInstruction:          "instruction not supported",
	CodeConditionsNotSatisfied:  "conditions not satisfied",
	CodeNVRAMRead:               "durable storage read failed",
	CodeNVRAMWrite:              "durable storage write failed",
	CodePrivateSpend:            "private spend key retrieval failed",
	CodePrivateView:             "private view key derivation failed",
	CodeResetKeys:               "key reset failed",
	CodeAddress:                 "address generation failed",
	CodeBase58:                  "invalid base58 data",
	CodeKeyDerivation:           "key derivation failed",
	CodeDerivePubkey:            "public key derivation failed",
	CodePubkeyMismatch:          "derived public key mismatch",
	CodeDeriveSeckey:            "secret key derivation failed",
	CodeKeccak:                  "keccak failed",
	CodeCompleteRingSig:         "ring signature completion failed",
	CodeGenerateKeyImage:        "key image generation failed",
	CodeSeckeyToPubkey:          "secret to public key failed",
	CodeGenerateRingSigs:        "ring signature generation failed",
	CodeGenerateSignature:       "signature generation failed",
	CodePrivateToPublic:         "private to public failed",
	CodeGeFromBytesVartime:      "invalid curve point",
	CodeCheckSignature:          "signature check failed",
	CodeCheckRingSigs:           "ring signature check failed",
	CodeTxInit:                  "transaction start failed",
	CodeTxLoadInput:             "transaction input load failed",
	CodeTxLoadOutput:            "transaction output load failed",
	CodeTxFinalizePrefix:        "transaction prefix finalization failed",
	CodeTxSign:                  "transaction signing failed",
	CodeTxDump:                  "transaction dump failed",
	CodeTxReset:                 "transaction reset failed",
}

// String returns a short description of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%04x", uint16(c))
}

// Label formats the code for metric labels.
func (c Code) Label() string {
	if c == OK {
		return "ok"
	}
	return fmt.Sprintf("0x%04x", uint16(c))
}

// Bytes returns the big-endian encoding of the code.
func (c Code) Bytes() [2]byte {
	return [2]byte{byte(c >> 8), byte(c)}
}

// Error is a failure carrying a status word.
type Error struct {
	Code  Code
	Op    string
	Cause error
}

// New creates an error for the given code and operation.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap creates an error for the given code with an underlying cause.
func Wrap(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("0x%04x %s", uint16(e.Code), e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors for use with errors.Is
var (
	ErrOpNotPermitted   = &Error{Code: CodeOpNotPermitted}
	ErrOpUserRequired   = &Error{Code: CodeOpUserRequired}
	ErrWrongInputLength = &Error{Code: CodeWrongInputLength}
	ErrTransactionState = &Error{Code: CodeTransactionState}
	ErrOutOfRange       = &Error{Code: CodeOutOfRange}
	ErrPubkeyMismatch   = &Error{Code: CodePubkeyMismatch}
	ErrInvalidPoint     = &Error{Code: CodeGeFromBytesVartime}
	ErrVarintDataRange  = &Error{Code: CodeVarintDataRange}
	ErrTxAmount         = &Error{Code: CodeTxAmount}
)

// CodeOf extracts the status word from err. Errors that carry no code map
// to CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
