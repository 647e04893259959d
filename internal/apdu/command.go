// Package apdu implements the signer's command surface: request framing,
// the instruction table with its confirmation gate, and a typed client.
package apdu

import (
	"encoding/binary"
	"fmt"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/status"
)

// CLA is the only class byte accepted
const CLA = 0xE0

// HeaderSize is CLA INS P1 P2 and a two byte data length
const HeaderSize = 6

// MaxDataSize bounds the data carried by one command
const MaxDataSize = 0xFFFF

// P1 values
const (
	P1NonConfirm = 0x00
	P1Confirm    = 0x01
)

// Instruction selects the command
type Instruction byte

const (
	InsVersion                   Instruction = 0x01
	InsDebug                     Instruction = 0x02
	InsIdent                     Instruction = 0x05
	InsPublicKeys                Instruction = 0x10
	InsViewSecretKey             Instruction = 0x11
	InsSpendSecretKey            Instruction = 0x12
	InsViewWalletKeys            Instruction = 0x13
	InsCheckKey                  Instruction = 0x16
	InsCheckScalar               Instruction = 0x17
	InsPrivateToPublic           Instruction = 0x18
	InsRandomKeyPair             Instruction = 0x19
	InsAddress                   Instruction = 0x30
	InsGenerateKeyImage          Instruction = 0x40
	InsGenerateKeyImagePrimitive Instruction = 0x41
	InsGenerateRingSignatures    Instruction = 0x50
	InsCompleteRingSignature     Instruction = 0x51
	InsCheckRingSignatures       Instruction = 0x52
	InsGenerateSignature         Instruction = 0x55
	InsCheckSignature            Instruction = 0x56
	InsGenerateKeyDerivation     Instruction = 0x60
	InsDerivePublicKey           Instruction = 0x61
	InsDeriveSecretKey           Instruction = 0x62
	InsTxState                   Instruction = 0x70
	InsTxStart                   Instruction = 0x71
	InsTxStartInputLoad          Instruction = 0x72
	InsTxLoadInput               Instruction = 0x73
	InsTxStartOutputLoad         Instruction = 0x74
	InsTxLoadOutput              Instruction = 0x75
	InsTxFinalizePrefix          Instruction = 0x76
	InsTxSign                    Instruction = 0x77
	InsTxDump                    Instruction = 0x78
	InsTxReset                   Instruction = 0x79
	InsResetKeys                 Instruction = 0xFF
)

var instructionNames = map[Instruction]string{
	InsVersion:                   "VERSION",
	InsDebug:                     "DEBUG",
	InsIdent:                     "IDENT",
	InsPublicKeys:                "PUBLIC_KEYS",
	InsViewSecretKey:             "VIEW_SECRET_KEY",
	InsSpendSecretKey:            "SPEND_SECRET_KEY",
	InsViewWalletKeys:            "VIEW_WALLET_KEYS",
	InsCheckKey:                  "CHECK_KEY",
	InsCheckScalar:               "CHECK_SCALAR",
	InsPrivateToPublic:           "PRIVATE_TO_PUBLIC",
	InsRandomKeyPair:             "RANDOM_KEY_PAIR",
	InsAddress:                   "ADDRESS",
	InsGenerateKeyImage:          "GENERATE_KEYIMAGE",
	InsGenerateKeyImagePrimitive: "GENERATE_KEYIMAGE_PRIMITIVE",
	InsGenerateRingSignatures:    "GENERATE_RING_SIGNATURES",
	InsCompleteRingSignature:     "COMPLETE_RING_SIGNATURE",
	InsCheckRingSignatures:       "CHECK_RING_SIGNATURES",
	InsGenerateSignature:         "GENERATE_SIGNATURE",
	InsCheckSignature:            "CHECK_SIGNATURE",
	InsGenerateKeyDerivation:     "GENERATE_KEY_DERIVATION",
	InsDerivePublicKey:           "DERIVE_PUBLIC_KEY",
	InsDeriveSecretKey:           "DERIVE_SECRET_KEY",
	InsTxState:                   "TX_STATE",
	InsTxStart:                   "TX_START",
	InsTxStartInputLoad:          "TX_START_INPUT_LOAD",
	InsTxLoadInput:               "TX_LOAD_INPUT",
	InsTxStartOutputLoad:         "TX_START_OUTPUT_LOAD",
	InsTxLoadOutput:              "TX_LOAD_OUTPUT",
	InsTxFinalizePrefix:          "TX_FINALIZE_PREFIX",
	InsTxSign:                    "TX_SIGN",
	InsTxDump:                    "TX_DUMP",
	InsTxReset:                   "TX_RESET",
	InsResetKeys:                 "RESET_KEYS",
}

func (i Instruction) String() string {
	if name, ok := instructionNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS(0x%02x)", byte(i))
}

// Command is one request
type Command struct {
	Ins  Instruction
	P1   byte
	P2   byte
	Data []byte
}

// ParseCommand splits a raw request. Data is copied so the caller may
// reuse raw.
func ParseCommand(raw []byte) (Command, error) {
	if len(raw) < HeaderSize {
		return Command{}, status.Wrap(status.CodeWrongInputLength, "parse command",
			fmt.Errorf("%d bytes is shorter than the header", len(raw)))
	}
	if raw[0] != CLA {
		return Command{}, status.Wrap(status.CodeBadClass, "parse command",
			fmt.Errorf("class 0x%02x", raw[0]))
	}
	n := int(binary.BigEndian.Uint16(raw[4:6]))
	if len(raw)-HeaderSize != n {
		return Command{}, status.Wrap(status.CodeWrongInputLength, "parse command",
			fmt.Errorf("length field says %d, carried %d", n, len(raw)-HeaderSize))
	}
	return Command{
		Ins:  Instruction(raw[1]),
		P1:   raw[2],
		P2:   raw[3],
		Data: append([]byte(nil), raw[HeaderSize:]...),
	}, nil
}

// Bytes serializes the command
func (c Command) Bytes() []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(c.Data))
	out[0] = CLA
	out[1] = byte(c.Ins)
	out[2] = c.P1
	out[3] = c.P2
	binary.BigEndian.PutUint16(out[4:6], uint16(len(c.Data)))
	return append(out, c.Data...)
}

// Response is a status word with optional data
type Response struct {
	Data []byte
	SW   status.Code

	// secret marks Data as key material to clear once framed
	secret bool
}

// ParseResponse splits off the trailing status word
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("response of %d bytes has no status word", len(raw))
	}
	n := len(raw) - 2
	return Response{
		Data: raw[:n],
		SW:   status.Code(binary.BigEndian.Uint16(raw[n:])),
	}, nil
}

// Bytes serializes the response
func (r Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	sw := r.SW.Bytes()
	return append(out, sw[:]...)
}

// Err returns nil for a successful response. Handler failures carry their
// code as data ahead of CONDITIONS_NOT_SATISFIED.
func (r Response) Err() error {
	switch {
	case r.SW == status.OK:
		return nil
	case r.SW == status.CodeConditionsNotSatisfied && len(r.Data) == 2:
		return status.New(status.Code(binary.BigEndian.Uint16(r.Data)), "device")
	default:
		return status.New(r.SW, "device")
	}
}

func success(data []byte) Response {
	return Response{Data: data, SW: status.OK}
}

func (r Response) wipe() {
	if r.secret {
		crypto.Wipe(r.Data)
	}
}

func failure(code status.Code) Response {
	b := code.Bytes()
	return Response{Data: b[:], SW: status.CodeConditionsNotSatisfied}
}

func bare(code status.Code) Response {
	return Response{SW: code}
}
