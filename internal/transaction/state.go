// Package transaction assembles, signs and pages out a CryptoNote
// transaction one step at a time. The serialized transaction and the
// per-input signing records live in durable regions; the progress counters
// are volatile and start over on every boot.
package transaction

import (
	"fmt"

	"trtl-signer/internal/crypto"
)

// Limits
const (
	MaxInputs    = 90
	MaxOutputs   = 90
	MaxSize      = 38400
	MaxExtraSize = 80
	MaxDumpSize  = 500
)

// Wire tags
const (
	Version                = 1
	InputTag               = 0x02
	OutputTag              = 0x02
	ExtraPubKeyTag         = 0x01
	ExtraNonceTag          = 0x02
	ExtraNoncePaymentIDTag = 0x00
)

// Region sizes
const (
	PreSignatureSize  = crypto.RingSize*crypto.KeySize + crypto.KeySize + crypto.KeySize + 1
	PreSignaturesSize = MaxInputs * PreSignatureSize
	InfoSize          = crypto.KeySize + crypto.KeySize + 1
	RingSignatureSize = crypto.RingSize * crypto.SignatureSize
)

// State is the position of the builder in the assembly sequence
type State byte

const (
	Unused           State = 0x00
	Ready            State = 0x01
	ReceivingInputs  State = 0x02
	InputsReceived   State = 0x03
	ReceivingOutputs State = 0x04
	OutputsReceived  State = 0x05
	PrefixReady      State = 0x06
	Complete         State = 0x07
)

var stateNames = map[State]string{
	Unused:           "UNUSED",
	Ready:            "READY",
	ReceivingInputs:  "RECEIVING_INPUTS",
	InputsReceived:   "INPUTS_RECEIVED",
	ReceivingOutputs: "RECEIVING_OUTPUTS",
	OutputsReceived:  "OUTPUTS_RECEIVED",
	PrefixReady:      "PREFIX_READY",
	Complete:         "COMPLETE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(0x%02x)", byte(s))
}

// Meta is the volatile progress of the transaction under construction
type Meta struct {
	TotalInputAmount    uint64
	TotalOutputAmount   uint64
	CurrentPosition     uint16
	HasPaymentID        bool
	InputCount          uint8
	ReceivedInputCount  uint8
	OutputCount         uint8
	ReceivedOutputCount uint8
	State               State

	// signAttempted is set once Sign has consumed private ephemerals
	signAttempted bool
	// written is the end of the furthest raw write; a failed Sign leaves it
	// past CurrentPosition
	written uint16
}

// StartParams opens a transaction
type StartParams struct {
	UnlockTime   uint64
	InputCount   uint8
	OutputCount  uint8
	TxPublicKey  crypto.Key
	HasPaymentID bool
	PaymentID    crypto.Key
}

// Input is one owned output being spent, hidden among decoys
type Input struct {
	TxPublicKey     crypto.Key
	OutputIndex     uint8
	Amount          uint64
	PublicKeys      [crypto.RingSize]crypto.Key
	Offsets         [crypto.RingSize]uint32
	RealOutputIndex uint8
}

// Output is a destination
type Output struct {
	Amount uint64
	Key    crypto.Key
}

// PreSignature is what Sign needs per input and the prefix does not carry
type PreSignature struct {
	PublicKeys       [crypto.RingSize]crypto.Key
	PrivateEphemeral crypto.Key
	KeyImage         crypto.Key
	RealOutputIndex  uint8
}

const offPrivateEphemeral = crypto.RingSize * crypto.KeySize

func (p *PreSignature) marshal() []byte {
	buf := make([]byte, 0, PreSignatureSize)
	for _, k := range p.PublicKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, p.PrivateEphemeral[:]...)
	buf = append(buf, p.KeyImage[:]...)
	return append(buf, p.RealOutputIndex)
}

func (p *PreSignature) unmarshal(buf []byte) {
	off := 0
	for i := range p.PublicKeys {
		copy(p.PublicKeys[i][:], buf[off:])
		off += crypto.KeySize
	}
	copy(p.PrivateEphemeral[:], buf[off:])
	off += crypto.KeySize
	copy(p.KeyImage[:], buf[off:])
	off += crypto.KeySize
	p.RealOutputIndex = buf[off]
}

// Wipe zeroes the private ephemeral
func (p *PreSignature) Wipe() {
	p.PrivateEphemeral.Wipe()
}

// info is the durable TransactionInfo record
type info struct {
	TxPublicKey  crypto.Key
	PaymentID    crypto.Key
	HasPaymentID bool
}

func (i *info) marshal() []byte {
	buf := make([]byte, 0, InfoSize)
	buf = append(buf, i.TxPublicKey[:]...)
	buf = append(buf, i.PaymentID[:]...)
	if i.HasPaymentID {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func (i *info) unmarshal(buf []byte) {
	copy(i.TxPublicKey[:], buf[:crypto.KeySize])
	copy(i.PaymentID[:], buf[crypto.KeySize:2*crypto.KeySize])
	i.HasPaymentID = buf[2*crypto.KeySize] == 1
}
