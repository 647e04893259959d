package transaction

import (
	"fmt"
	"math"
	"sync"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/status"
	"trtl-signer/internal/varint"
)

// Durable is a fixed-size window of the durable store
type Durable interface {
	ReadAt(p []byte, off int64) error
	WriteAt(p []byte, off int64) error
	Size() int64
}

// KeySource provides the wallet keys needed to recognise owned outputs. The
// builder wipes the private halves it receives.
type KeySource interface {
	Keys() crypto.WalletKeys
}

// Regions are the durable areas the builder writes to
type Regions struct {
	Raw           Durable
	PreSignatures Durable
	Info          Durable
}

// Builder drives the transaction state machine. Every step validates and
// serializes into local memory before anything is written, so a rejected
// step leaves both the durable regions and Meta as they were.
type Builder struct {
	mu      sync.Mutex
	keys    KeySource
	raw     Durable
	presig  Durable
	info    Durable
	meta    Meta
	log     *logger.Logger
	onState func(State)
}

// NewBuilder checks the region sizes and clears all of them
func NewBuilder(keys KeySource, regions Regions) (*Builder, error) {
	if regions.Raw == nil || regions.PreSignatures == nil || regions.Info == nil {
		return nil, fmt.Errorf("transaction regions must not be nil")
	}
	if regions.Raw.Size() < MaxSize {
		return nil, fmt.Errorf("raw region is %d bytes, need %d", regions.Raw.Size(), MaxSize)
	}
	if regions.PreSignatures.Size() < PreSignaturesSize {
		return nil, fmt.Errorf("pre-signature region is %d bytes, need %d", regions.PreSignatures.Size(), PreSignaturesSize)
	}
	if regions.Info.Size() < InfoSize {
		return nil, fmt.Errorf("info region is %d bytes, need %d", regions.Info.Size(), InfoSize)
	}

	b := &Builder{
		keys:   keys,
		raw:    regions.Raw,
		presig: regions.PreSignatures,
		info:   regions.Info,
		log:    logger.Default().With("transaction"),
	}
	if err := b.wipe(MaxSize, MaxInputs); err != nil {
		return nil, err
	}
	return b, nil
}

// OnStateChange registers fn to be called after every state transition
func (b *Builder) OnStateChange(fn func(State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onState = fn
}

func (b *Builder) setState(s State) {
	b.meta.State = s
	if b.onState != nil {
		b.onState(s)
	}
}

func (b *Builder) requireState(want State, op string) error {
	if b.meta.State != want {
		return status.Wrap(status.CodeTransactionState, op,
			fmt.Errorf("state is %s, need %s", b.meta.State, want))
	}
	return nil
}

// appendRaw writes buf at the cursor. It does not move the cursor.
func (b *Builder) appendRaw(buf []byte, op string) error {
	if int(b.meta.CurrentPosition)+len(buf) > MaxSize {
		return status.Wrap(status.CodeTxSize, op,
			fmt.Errorf("%d bytes at position %d exceed %d", len(buf), b.meta.CurrentPosition, MaxSize))
	}
	b.markWritten(int(b.meta.CurrentPosition) + len(buf))
	if err := b.raw.WriteAt(buf, int64(b.meta.CurrentPosition)); err != nil {
		return status.Wrap(status.CodeNVRAMWrite, op, err)
	}
	return nil
}

// markWritten records a raw write ending at end so reset can wipe it
func (b *Builder) markWritten(end int) {
	if end > int(b.meta.written) {
		b.meta.written = uint16(end)
	}
}

// Start resets the regions and writes the head of the prefix
func (b *Builder) Start(p StartParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	const op = "tx start"
	if err := b.requireState(Unused, op); err != nil {
		return err
	}
	if p.InputCount == 0 || p.InputCount > MaxInputs || p.OutputCount == 0 || p.OutputCount > MaxOutputs {
		return status.Wrap(status.CodeTxInputOutputOutOfRange, op,
			fmt.Errorf("%d inputs and %d outputs, each must be 1..%d", p.InputCount, p.OutputCount, MaxInputs))
	}

	head := []byte{Version}
	head, err := varint.AppendEncode(head, p.UnlockTime, varint.MaxLength)
	if err != nil {
		return err
	}
	head, err = varint.AppendEncode(head, uint64(p.InputCount), varint.MaxLength)
	if err != nil {
		return err
	}

	rec := info{TxPublicKey: p.TxPublicKey, HasPaymentID: p.HasPaymentID}
	if p.HasPaymentID {
		rec.PaymentID = p.PaymentID
	}

	if err := b.reset(); err != nil {
		return status.Wrap(status.CodeTxInit, op, err)
	}
	if err := b.appendRaw(head, op); err != nil {
		return err
	}
	if err := b.info.WriteAt(rec.marshal(), 0); err != nil {
		return status.Wrap(status.CodeNVRAMWrite, op, err)
	}

	b.meta = Meta{
		CurrentPosition: uint16(len(head)),
		HasPaymentID:    p.HasPaymentID,
		InputCount:      p.InputCount,
		OutputCount:     p.OutputCount,
	}
	b.setState(Ready)
	b.log.Debug("Transaction: started", "inputs", p.InputCount, "outputs", p.OutputCount,
		"tx_public_key", p.TxPublicKey.String())
	return nil
}

// StartInputLoad moves from Ready to ReceivingInputs
func (b *Builder) StartInputLoad() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.requireState(Ready, "tx start input load"); err != nil {
		return err
	}
	b.setState(ReceivingInputs)
	return nil
}

// LoadInput checks that the real ring member belongs to the wallet,
// appends the input to the prefix and records what Sign will need for it.
func (b *Builder) LoadInput(in Input) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	const op = "tx load input"
	if err := b.requireState(ReceivingInputs, op); err != nil {
		return err
	}
	if int(in.RealOutputIndex) >= crypto.RingSize {
		return status.Wrap(status.CodeOutOfRange, op,
			fmt.Errorf("real output index %d outside ring of %d", in.RealOutputIndex, crypto.RingSize))
	}
	if in.Amount > math.MaxUint64-b.meta.TotalInputAmount {
		return status.Wrap(status.CodeTxAmount, op, fmt.Errorf("input total overflows"))
	}

	keys := b.keys.Keys()
	defer keys.ViewPrivate.Wipe()
	defer keys.SpendPrivate.Wipe()

	ephemeral, err := crypto.EphemeralKeys(in.TxPublicKey, uint64(in.OutputIndex), in.PublicKeys[in.RealOutputIndex], keys)
	if err != nil {
		return err
	}
	defer ephemeral.Private.Wipe()

	if crypto.PrivateToPublic(ephemeral.Private) != ephemeral.Public {
		return status.New(status.CodePubkeyMismatch, op)
	}

	image, err := crypto.GenerateKeyImage(ephemeral.Public, ephemeral.Private)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, MaxExtraSize)
	buf = append(buf, InputTag)
	if buf, err = varint.AppendEncode(buf, in.Amount, varint.MaxLength); err != nil {
		return err
	}
	buf = append(buf, crypto.RingSize)
	for _, off := range in.Offsets {
		if buf, err = varint.AppendEncode(buf, uint64(off), varint.MaxLength); err != nil {
			return err
		}
	}
	buf = append(buf, image[:]...)
	defer crypto.Wipe(buf)

	rec := PreSignature{
		PublicKeys:       in.PublicKeys,
		PrivateEphemeral: ephemeral.Private,
		KeyImage:         image,
		RealOutputIndex:  in.RealOutputIndex,
	}
	recBytes := rec.marshal()
	rec.Wipe()
	defer crypto.Wipe(recBytes)

	if err := b.appendRaw(buf, op); err != nil {
		return err
	}
	if err := b.presig.WriteAt(recBytes, int64(b.meta.ReceivedInputCount)*PreSignatureSize); err != nil {
		return status.Wrap(status.CodeNVRAMWrite, op, err)
	}

	b.meta.CurrentPosition += uint16(len(buf))
	b.meta.TotalInputAmount += in.Amount
	b.meta.ReceivedInputCount++
	if b.meta.ReceivedInputCount == b.meta.InputCount {
		b.setState(InputsReceived)
	}
	b.log.Debug("Transaction: input loaded", "index", b.meta.ReceivedInputCount-1,
		"amount", in.Amount, "key_image", image.String())
	return nil
}

// StartOutputLoad writes the output count and moves to ReceivingOutputs
func (b *Builder) StartOutputLoad() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	const op = "tx start output load"
	if err := b.requireState(InputsReceived, op); err != nil {
		return err
	}
	buf, err := varint.Encode(uint64(b.meta.OutputCount), varint.MaxLength)
	if err != nil {
		return err
	}
	if err := b.appendRaw(buf, op); err != nil {
		return err
	}
	b.meta.CurrentPosition += uint16(len(buf))
	b.setState(ReceivingOutputs)
	return nil
}

// LoadOutput appends one destination to the prefix
func (b *Builder) LoadOutput(out Output) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	const op = "tx load output"
	if err := b.requireState(ReceivingOutputs, op); err != nil {
		return err
	}
	if out.Amount > math.MaxUint64-b.meta.TotalOutputAmount {
		return status.Wrap(status.CodeTxAmount, op, fmt.Errorf("output total overflows"))
	}

	buf, err := varint.Encode(out.Amount, varint.MaxLength)
	if err != nil {
		return err
	}
	buf = append(buf, OutputTag)
	buf = append(buf, out.Key[:]...)

	if err := b.appendRaw(buf, op); err != nil {
		return err
	}

	b.meta.CurrentPosition += uint16(len(buf))
	b.meta.TotalOutputAmount += out.Amount
	b.meta.ReceivedOutputCount++
	if b.meta.ReceivedOutputCount == b.meta.OutputCount {
		b.setState(OutputsReceived)
	}
	return nil
}

// FinalizePrefix appends the extra field carrying the transaction public key
// and the optional payment id
func (b *Builder) FinalizePrefix() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	const op = "tx finalize prefix"
	if err := b.requireState(OutputsReceived, op); err != nil {
		return err
	}
	if b.meta.TotalOutputAmount > b.meta.TotalInputAmount {
		return status.Wrap(status.CodeTxAmount, op,
			fmt.Errorf("outputs %d exceed inputs %d", b.meta.TotalOutputAmount, b.meta.TotalInputAmount))
	}

	raw := make([]byte, InfoSize)
	if err := b.info.ReadAt(raw, 0); err != nil {
		return status.Wrap(status.CodeNVRAMRead, op, err)
	}
	var rec info
	rec.unmarshal(raw)

	extra, err := buildExtra(rec.TxPublicKey, b.meta.HasPaymentID, rec.PaymentID)
	if err != nil {
		return status.Wrap(status.CodeTxFinalizePrefix, op, err)
	}
	defer crypto.Wipe(extra)

	if err := b.appendRaw(extra, op); err != nil {
		return err
	}
	b.meta.CurrentPosition += uint16(len(extra))
	b.setState(PrefixReady)
	return nil
}

func buildExtra(txPub crypto.Key, hasPaymentID bool, paymentID crypto.Key) ([]byte, error) {
	size := 1 + crypto.KeySize
	if hasPaymentID {
		size += 1 + 1 + 1 + crypto.KeySize
	}

	extra, err := varint.Encode(uint64(size), varint.MaxLength)
	if err != nil {
		return nil, err
	}
	extra = append(extra, ExtraPubKeyTag)
	extra = append(extra, txPub[:]...)
	if hasPaymentID {
		extra = append(extra, ExtraNonceTag)
		if extra, err = varint.AppendEncode(extra, 1+crypto.KeySize, 1); err != nil {
			return nil, err
		}
		extra = append(extra, ExtraNoncePaymentIDTag)
		extra = append(extra, paymentID[:]...)
	}
	if len(extra) > MaxExtraSize {
		return nil, fmt.Errorf("extra of %d bytes exceeds %d", len(extra), MaxExtraSize)
	}
	return extra, nil
}

// Sign hashes the prefix and appends one ring signature set per input. It
// returns the hash of the complete transaction and its size. A failure
// leaves the state at PrefixReady with the private ephemerals already
// consumed, so the transaction must be reset.
func (b *Builder) Sign() (crypto.Key, uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	const op = "tx sign"
	if err := b.requireState(PrefixReady, op); err != nil {
		return crypto.Key{}, 0, err
	}
	if b.meta.signAttempted {
		return crypto.Key{}, 0, status.Wrap(status.CodeTransactionState, op,
			fmt.Errorf("a previous signing pass failed, reset the transaction"))
	}
	b.meta.signAttempted = true

	prefix, err := b.hash()
	if err != nil {
		return crypto.Key{}, 0, err
	}

	pos := b.meta.CurrentPosition
	recBytes := make([]byte, PreSignatureSize)
	defer crypto.Wipe(recBytes)
	zero := make([]byte, crypto.KeySize)

	for i := 0; i < int(b.meta.InputCount); i++ {
		off := int64(i) * PreSignatureSize
		if err := b.presig.ReadAt(recBytes, off); err != nil {
			return crypto.Key{}, 0, status.Wrap(status.CodeNVRAMRead, op, err)
		}
		var rec PreSignature
		rec.unmarshal(recBytes)

		sigs, err := crypto.GenerateRingSignatures(prefix, rec.KeyImage, rec.PublicKeys, int(rec.RealOutputIndex), rec.PrivateEphemeral)
		rec.Wipe()
		if err != nil {
			return crypto.Key{}, 0, status.Wrap(status.CodeTxSign, op, err)
		}
		if err := b.presig.WriteAt(zero, off+offPrivateEphemeral); err != nil {
			return crypto.Key{}, 0, status.Wrap(status.CodeNVRAMWrite, op, err)
		}

		if int(pos)+RingSignatureSize > MaxSize {
			return crypto.Key{}, 0, status.Wrap(status.CodeTxSize, op,
				fmt.Errorf("signatures for input %d exceed %d bytes", i, MaxSize))
		}
		buf := make([]byte, 0, RingSignatureSize)
		for _, sig := range sigs {
			buf = append(buf, sig[:]...)
		}
		b.markWritten(int(pos) + len(buf))
		if err := b.raw.WriteAt(buf, int64(pos)); err != nil {
			return crypto.Key{}, 0, status.Wrap(status.CodeNVRAMWrite, op, err)
		}
		pos += RingSignatureSize
	}

	b.meta.CurrentPosition = pos
	b.setState(Complete)

	hash, err := b.hash()
	if err != nil {
		return crypto.Key{}, 0, err
	}
	b.log.Info("Transaction: signed", "hash", hash.String(), "size", pos, "fee", b.fee())
	return hash, pos, nil
}

// Hash returns Keccak over the bytes written so far
func (b *Builder) Hash() (crypto.Key, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hash()
}

func (b *Builder) hash() (crypto.Key, error) {
	buf := make([]byte, b.meta.CurrentPosition)
	if err := b.raw.ReadAt(buf, 0); err != nil {
		return crypto.Key{}, status.Wrap(status.CodeNVRAMRead, "tx hash", err)
	}
	return crypto.Keccak(buf), nil
}

// Dump returns up to length bytes of the completed transaction starting at
// offset, capped at MaxDumpSize
func (b *Builder) Dump(offset, length uint16) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	const op = "tx dump"
	if err := b.requireState(Complete, op); err != nil {
		return nil, err
	}
	if offset > b.meta.CurrentPosition {
		return nil, status.Wrap(status.CodeOutOfRange, op,
			fmt.Errorf("offset %d beyond transaction size %d", offset, b.meta.CurrentPosition))
	}

	n := int(b.meta.CurrentPosition - offset)
	if int(length) < n {
		n = int(length)
	}
	if n > MaxDumpSize {
		n = MaxDumpSize
	}

	out := make([]byte, n)
	if err := b.raw.ReadAt(out, int64(offset)); err != nil {
		return nil, status.Wrap(status.CodeTxDump, op, err)
	}
	return out, nil
}

// DumpChunk is Dump with the largest chunk size
func (b *Builder) DumpChunk(offset uint16) ([]byte, error) {
	return b.Dump(offset, MaxDumpSize)
}

// Reset wipes the regions touched by the current transaction and returns
// to Unused. It is valid in every state.
func (b *Builder) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.reset(); err != nil {
		return status.Wrap(status.CodeTxReset, "tx reset", err)
	}
	return nil
}

func (b *Builder) reset() error {
	inputs := int(b.meta.InputCount)
	if b.meta.ReceivedInputCount > b.meta.InputCount {
		inputs = int(b.meta.ReceivedInputCount)
	}
	rawLen := max(b.meta.CurrentPosition, b.meta.written)
	if err := b.wipe(int(rawLen), inputs); err != nil {
		return err
	}
	previous := b.meta.State
	b.meta = Meta{}
	if previous != Unused {
		b.setState(Unused)
	}
	return nil
}

func (b *Builder) wipe(rawLen, inputs int) error {
	if rawLen > 0 {
		if err := b.raw.WriteAt(make([]byte, rawLen), 0); err != nil {
			return status.Wrap(status.CodeNVRAMWrite, "tx wipe", err)
		}
	}
	if inputs > 0 {
		if err := b.presig.WriteAt(make([]byte, inputs*PreSignatureSize), 0); err != nil {
			return status.Wrap(status.CodeNVRAMWrite, "tx wipe", err)
		}
	}
	if err := b.info.WriteAt(make([]byte, InfoSize), 0); err != nil {
		return status.Wrap(status.CodeNVRAMWrite, "tx wipe", err)
	}
	return nil
}

// State returns the current state
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.State
}

// Meta returns a copy of the progress counters
func (b *Builder) Meta() Meta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta
}

// Fee returns inputs minus outputs
func (b *Builder) Fee() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fee()
}

func (b *Builder) fee() uint64 {
	if b.meta.TotalOutputAmount > b.meta.TotalInputAmount {
		return 0
	}
	return b.meta.TotalInputAmount - b.meta.TotalOutputAmount
}

// Size returns the number of bytes written to the raw region
func (b *Builder) Size() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.CurrentPosition
}

// InputAmount returns the sum of loaded inputs
func (b *Builder) InputAmount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.TotalInputAmount
}

// OutputAmount returns the sum of loaded outputs
func (b *Builder) OutputAmount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta.TotalOutputAmount
}
