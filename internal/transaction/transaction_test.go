package transaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/status"
	"trtl-signer/internal/storage"
)

type testWallet struct {
	keys crypto.WalletKeys
}

func (w testWallet) Keys() crypto.WalletKeys { return w.keys }

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	spend, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	view, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return testWallet{keys: crypto.WalletKeys{
		ViewPrivate:  view.Private,
		SpendPrivate: spend.Private,
		SpendPublic:  spend.Public,
	}}
}

// ownedInput builds an input whose real ring member pays to w
func (w testWallet) ownedInput(t *testing.T, amount uint64, outputIndex, realIndex uint8) Input {
	t.Helper()
	txKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	derivation, err := crypto.GenerateKeyDerivation(txKey.Public, w.keys.ViewPrivate)
	require.NoError(t, err)
	outKey, err := crypto.DerivePublicKey(derivation, uint64(outputIndex), w.keys.SpendPublic)
	require.NoError(t, err)

	in := Input{
		TxPublicKey:     txKey.Public,
		OutputIndex:     outputIndex,
		Amount:          amount,
		Offsets:         [crypto.RingSize]uint32{10, 200, 3000, 40000},
		RealOutputIndex: realIndex,
	}
	for i := range in.PublicKeys {
		decoy, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		in.PublicKeys[i] = decoy.Public
	}
	in.PublicKeys[realIndex] = outKey
	return in
}

func randomKey(t *testing.T) crypto.Key {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp.Public
}

type fixture struct {
	mem     *storage.MemoryStore
	builder *Builder
	wallet  testWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := storage.NewMemoryStore(MaxSize + PreSignaturesSize + InfoSize)
	regions, err := storage.Layout(mem, MaxSize, PreSignaturesSize, InfoSize)
	require.NoError(t, err)

	w := newTestWallet(t)
	b, err := NewBuilder(w, Regions{Raw: regions[0], PreSignatures: regions[1], Info: regions[2]})
	require.NoError(t, err)
	return &fixture{mem: mem, builder: b, wallet: w}
}

// prepare runs every step up to PrefixReady
func (f *fixture) prepare(t *testing.T, p StartParams, inputs []Input, outputs []Output) {
	t.Helper()
	b := f.builder
	require.NoError(t, b.Start(p))
	require.NoError(t, b.StartInputLoad())
	for _, in := range inputs {
		require.NoError(t, b.LoadInput(in))
	}
	require.Equal(t, InputsReceived, b.State())
	require.NoError(t, b.StartOutputLoad())
	for _, out := range outputs {
		require.NoError(t, b.LoadOutput(out))
	}
	require.Equal(t, OutputsReceived, b.State())
	require.NoError(t, b.FinalizePrefix())
	require.Equal(t, PrefixReady, b.State())
}

func (f *fixture) dumpAll(t *testing.T) []byte {
	t.Helper()
	var out []byte
	for uint16(len(out)) < f.builder.Size() {
		chunk, err := f.builder.DumpChunk(uint16(len(out)))
		require.NoError(t, err)
		require.NotEmpty(t, chunk)
		require.LessOrEqual(t, len(chunk), MaxDumpSize)
		out = append(out, chunk...)
	}
	return out
}

func TestNewBuilder_RegionSizes(t *testing.T) {
	mem := storage.NewMemoryStore(MaxSize + PreSignaturesSize + InfoSize)
	regions, err := storage.Layout(mem, MaxSize, PreSignaturesSize, InfoSize)
	require.NoError(t, err)

	_, err = NewBuilder(newTestWallet(t), Regions{Raw: regions[1], PreSignatures: regions[1], Info: regions[2]})
	assert.Error(t, err)
	_, err = NewBuilder(newTestWallet(t), Regions{Raw: regions[0], PreSignatures: regions[2], Info: regions[2]})
	assert.Error(t, err)
	_, err = NewBuilder(newTestWallet(t), Regions{Raw: regions[0]})
	assert.Error(t, err)
}

func TestBuilder_SingleInputEndToEnd(t *testing.T) {
	f := newFixture(t)
	b := f.builder
	assert.Equal(t, Unused, b.State())

	txPub := randomKey(t)
	in := f.wallet.ownedInput(t, 1000, 0, 2)
	out := Output{Amount: 900, Key: randomKey(t)}

	require.NoError(t, b.Start(StartParams{UnlockTime: 0, InputCount: 1, OutputCount: 1, TxPublicKey: txPub}))
	assert.Equal(t, Ready, b.State())
	assert.Equal(t, uint16(3), b.Size())

	require.NoError(t, b.StartInputLoad())
	require.NoError(t, b.LoadInput(in))
	assert.Equal(t, InputsReceived, b.State())
	assert.Equal(t, uint16(3+1+2+1+1+2+2+3+32), b.Size())

	require.NoError(t, b.StartOutputLoad())
	require.NoError(t, b.LoadOutput(out))
	require.NoError(t, b.FinalizePrefix())
	prefixSize := b.Size()
	assert.Equal(t, uint64(100), b.Fee())
	assert.Equal(t, uint64(1000), b.InputAmount())
	assert.Equal(t, uint64(900), b.OutputAmount())

	hash, size, err := b.Sign()
	require.NoError(t, err)
	assert.Equal(t, Complete, b.State())
	assert.Equal(t, prefixSize+RingSignatureSize, size)

	raw := f.dumpAll(t)
	require.Len(t, raw, int(size))
	assert.Equal(t, hash, crypto.Keccak(raw))

	current, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, hash, current)

	tx, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, int(prefixSize), tx.PrefixSize)
	assert.Equal(t, uint64(0), tx.UnlockTime)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, uint64(1000), tx.Inputs[0].Amount)
	assert.Equal(t, []uint32{10, 200, 3000, 40000}, tx.Inputs[0].Offsets)
	require.Len(t, tx.Outputs, 1)
	assert.Equal(t, out.Key, tx.Outputs[0].Key)
	assert.Equal(t, txPub, tx.TxPublicKey)
	assert.Nil(t, tx.PaymentID)
	assert.Equal(t, uint64(100), tx.Fee())

	ok, err := crypto.CheckRingSignatures(tx.PrefixHash(), tx.Inputs[0].KeyImage, in.PublicKeys, tx.Signatures[0])
	require.NoError(t, err)
	assert.True(t, ok)

	// the key image is the one the owner would compute
	ephemeral, err := crypto.EphemeralKeys(in.TxPublicKey, 0, in.PublicKeys[2], f.wallet.keys)
	require.NoError(t, err)
	image, err := crypto.GenerateKeyImage(ephemeral.Public, ephemeral.Private)
	require.NoError(t, err)
	assert.Equal(t, image, tx.Inputs[0].KeyImage)
}

func TestBuilder_PaymentIDAndManyInputs(t *testing.T) {
	f := newFixture(t)
	pid := randomKey(t)
	txPub := randomKey(t)

	inputs := []Input{
		f.wallet.ownedInput(t, 5000000, 1, 0),
		f.wallet.ownedInput(t, 70, 3, 3),
		f.wallet.ownedInput(t, 1<<40, 0, 1),
	}
	outputs := []Output{
		{Amount: 1 << 39, Key: randomKey(t)},
		{Amount: 5000000, Key: randomKey(t)},
	}
	f.prepare(t, StartParams{
		UnlockTime:   123456789,
		InputCount:   3,
		OutputCount:  2,
		TxPublicKey:  txPub,
		HasPaymentID: true,
		PaymentID:    pid,
	}, inputs, outputs)
	assert.True(t, f.builder.Meta().HasPaymentID)

	hash, size, err := f.builder.Sign()
	require.NoError(t, err)

	raw := f.dumpAll(t)
	require.Len(t, raw, int(size))
	assert.Equal(t, hash, crypto.Keccak(raw))

	tx, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), tx.UnlockTime)
	assert.Equal(t, txPub, tx.TxPublicKey)
	require.NotNil(t, tx.PaymentID)
	assert.Equal(t, pid, *tx.PaymentID)
	assert.Len(t, tx.Extra, 1+32+1+1+1+32)
	assert.Equal(t, uint64(70+1<<39), tx.Fee())

	for i, in := range inputs {
		ok, err := crypto.CheckRingSignatures(tx.PrefixHash(), tx.Inputs[i].KeyImage, in.PublicKeys, tx.Signatures[i])
		require.NoError(t, err)
		assert.True(t, ok, "input %d", i)
	}
}

func TestBuilder_PrivateEphemeralsWipedAfterSign(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, StartParams{InputCount: 2, OutputCount: 1, TxPublicKey: randomKey(t)},
		[]Input{f.wallet.ownedInput(t, 10, 0, 0), f.wallet.ownedInput(t, 10, 1, 1)},
		[]Output{{Amount: 20, Key: randomKey(t)}})

	image := f.mem.Snapshot()
	for i := 0; i < 2; i++ {
		off := MaxSize + i*PreSignatureSize + offPrivateEphemeral
		assert.NotEqual(t, make([]byte, crypto.KeySize), image[off:off+crypto.KeySize])
	}

	_, _, err := f.builder.Sign()
	require.NoError(t, err)

	image = f.mem.Snapshot()
	for i := 0; i < 2; i++ {
		off := MaxSize + i*PreSignatureSize + offPrivateEphemeral
		assert.Equal(t, make([]byte, crypto.KeySize), image[off:off+crypto.KeySize])
	}
}

func TestBuilder_StateErrors(t *testing.T) {
	f := newFixture(t)
	b := f.builder
	in := f.wallet.ownedInput(t, 10, 0, 0)

	assertRejected := func(t *testing.T, err error) {
		t.Helper()
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrTransactionState))
	}

	before := b.Meta()
	assertRejected(t, b.StartInputLoad())
	assertRejected(t, b.LoadInput(in))
	assertRejected(t, b.StartOutputLoad())
	assertRejected(t, b.LoadOutput(Output{Amount: 1}))
	assertRejected(t, b.FinalizePrefix())
	_, _, err := b.Sign()
	assertRejected(t, err)
	_, err = b.DumpChunk(0)
	assertRejected(t, err)
	assert.Equal(t, before, b.Meta())

	require.NoError(t, b.Start(StartParams{InputCount: 1, OutputCount: 1}))
	before = b.Meta()
	assertRejected(t, b.Start(StartParams{InputCount: 1, OutputCount: 1}))
	assertRejected(t, b.LoadInput(in))
	assertRejected(t, b.LoadOutput(Output{Amount: 1}))
	assert.Equal(t, before, b.Meta())

	require.NoError(t, b.StartInputLoad())
	require.NoError(t, b.LoadInput(in))
	before = b.Meta()
	assertRejected(t, b.LoadInput(in))
	assert.Equal(t, before, b.Meta())
}

func TestBuilder_StartLimits(t *testing.T) {
	tests := []struct {
		name    string
		inputs  uint8
		outputs uint8
	}{
		{"no inputs", 0, 1},
		{"no outputs", 1, 0},
		{"too many inputs", MaxInputs + 1, 1},
		{"too many outputs", 1, MaxOutputs + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.builder.Start(StartParams{InputCount: tt.inputs, OutputCount: tt.outputs})
			require.Error(t, err)
			assert.Equal(t, status.CodeTxInputOutputOutOfRange, status.CodeOf(err))
			assert.Equal(t, Unused, f.builder.State())
		})
	}

	f := newFixture(t)
	require.NoError(t, f.builder.Start(StartParams{InputCount: MaxInputs, OutputCount: MaxOutputs}))
}

func TestBuilder_LoadInputRejections(t *testing.T) {
	f := newFixture(t)
	b := f.builder
	require.NoError(t, b.Start(StartParams{InputCount: 2, OutputCount: 1}))
	require.NoError(t, b.StartInputLoad())

	t.Run("foreign output", func(t *testing.T) {
		other := newTestWallet(t)
		before := b.Meta()
		err := b.LoadInput(other.ownedInput(t, 10, 0, 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrPubkeyMismatch))
		assert.Equal(t, before, b.Meta())
	})

	t.Run("wrong output index", func(t *testing.T) {
		in := f.wallet.ownedInput(t, 10, 0, 1)
		in.OutputIndex = 1
		err := b.LoadInput(in)
		assert.Equal(t, status.CodePubkeyMismatch, status.CodeOf(err))
	})

	t.Run("real index out of ring", func(t *testing.T) {
		in := f.wallet.ownedInput(t, 10, 0, 1)
		in.RealOutputIndex = crypto.RingSize
		err := b.LoadInput(in)
		assert.Equal(t, status.CodeOutOfRange, status.CodeOf(err))
	})

	t.Run("amount overflow", func(t *testing.T) {
		require.NoError(t, b.LoadInput(f.wallet.ownedInput(t, ^uint64(0), 0, 0)))
		before := b.Meta()
		err := b.LoadInput(f.wallet.ownedInput(t, 1, 0, 0))
		assert.Equal(t, status.CodeTxAmount, status.CodeOf(err))
		assert.Equal(t, before, b.Meta())
	})
}

func TestBuilder_OutputsExceedInputs(t *testing.T) {
	f := newFixture(t)
	b := f.builder
	require.NoError(t, b.Start(StartParams{InputCount: 1, OutputCount: 1}))
	require.NoError(t, b.StartInputLoad())
	require.NoError(t, b.LoadInput(f.wallet.ownedInput(t, 10, 0, 0)))
	require.NoError(t, b.StartOutputLoad())
	require.NoError(t, b.LoadOutput(Output{Amount: 11, Key: randomKey(t)}))

	err := b.FinalizePrefix()
	require.Error(t, err)
	assert.Equal(t, status.CodeTxAmount, status.CodeOf(err))
	assert.Equal(t, OutputsReceived, b.State())
	assert.Equal(t, uint64(0), b.Fee())
}

func TestBuilder_Dump(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, StartParams{InputCount: 3, OutputCount: 1, TxPublicKey: randomKey(t)},
		[]Input{f.wallet.ownedInput(t, 1, 0, 0), f.wallet.ownedInput(t, 1, 0, 1), f.wallet.ownedInput(t, 1, 0, 2)},
		[]Output{{Amount: 3, Key: randomKey(t)}})
	_, size, err := f.builder.Sign()
	require.NoError(t, err)
	require.Greater(t, int(size), MaxDumpSize)

	chunk, err := f.builder.DumpChunk(0)
	require.NoError(t, err)
	assert.Len(t, chunk, MaxDumpSize)

	chunk, err = f.builder.Dump(10, 5)
	require.NoError(t, err)
	assert.Len(t, chunk, 5)

	chunk, err = f.builder.DumpChunk(size - 7)
	require.NoError(t, err)
	assert.Len(t, chunk, 7)

	chunk, err = f.builder.DumpChunk(size)
	require.NoError(t, err)
	assert.Empty(t, chunk)

	_, err = f.builder.DumpChunk(size + 1)
	assert.Equal(t, status.CodeOutOfRange, status.CodeOf(err))
}

func TestBuilder_Reset(t *testing.T) {
	f := newFixture(t)
	b := f.builder

	var seen []State
	b.OnStateChange(func(s State) { seen = append(seen, s) })

	require.NoError(t, b.Start(StartParams{InputCount: 1, OutputCount: 1, TxPublicKey: randomKey(t)}))
	require.NoError(t, b.StartInputLoad())
	require.NoError(t, b.LoadInput(f.wallet.ownedInput(t, 10, 0, 0)))
	require.NoError(t, b.Reset())

	assert.Equal(t, Unused, b.State())
	assert.Equal(t, Meta{}, b.Meta())
	assert.Equal(t, make([]byte, MaxSize+PreSignaturesSize+InfoSize), f.mem.Snapshot())
	assert.Equal(t, []State{Ready, ReceivingInputs, InputsReceived, Unused}, seen)

	// reset in UNUSED is accepted
	require.NoError(t, b.Reset())

	// a full cycle after reset works
	f.prepare(t, StartParams{InputCount: 1, OutputCount: 1, TxPublicKey: randomKey(t)},
		[]Input{f.wallet.ownedInput(t, 10, 0, 0)},
		[]Output{{Amount: 10, Key: randomKey(t)}})
	_, _, err := b.Sign()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), b.Fee())
}

func TestBuilder_SignFailureRequiresReset(t *testing.T) {
	f := newFixture(t)
	b := f.builder
	f.prepare(t, StartParams{InputCount: 1, OutputCount: 1, TxPublicKey: randomKey(t)},
		[]Input{f.wallet.ownedInput(t, 10, 0, 0)},
		[]Output{{Amount: 5, Key: randomKey(t)}})

	f.mem.FailWrites = errors.New("flash worn out")
	_, _, err := b.Sign()
	require.Error(t, err)
	assert.Equal(t, status.CodeNVRAMWrite, status.CodeOf(err))
	assert.Equal(t, PrefixReady, b.State())

	f.mem.FailWrites = nil
	_, _, err = b.Sign()
	assert.Equal(t, status.CodeTransactionState, status.CodeOf(err))

	require.NoError(t, b.Reset())
	assert.Equal(t, Unused, b.State())
}

// wearingRegion fails every write once budget runs out. A negative budget
// never runs out.
type wearingRegion struct {
	Durable
	budget int
}

func (r *wearingRegion) WriteAt(p []byte, off int64) error {
	if r.budget == 0 {
		return errors.New("flash worn out")
	}
	if r.budget > 0 {
		r.budget--
	}
	return r.Durable.WriteAt(p, off)
}

func TestBuilder_ResetWipesPartialSignatures(t *testing.T) {
	mem := storage.NewMemoryStore(MaxSize + PreSignaturesSize + InfoSize)
	regions, err := storage.Layout(mem, MaxSize, PreSignaturesSize, InfoSize)
	require.NoError(t, err)
	presig := &wearingRegion{Durable: regions[1], budget: -1}

	w := newTestWallet(t)
	b, err := NewBuilder(w, Regions{Raw: regions[0], PreSignatures: presig, Info: regions[2]})
	require.NoError(t, err)
	f := &fixture{mem: mem, builder: b, wallet: w}
	f.prepare(t, StartParams{InputCount: 2, OutputCount: 1, TxPublicKey: randomKey(t)},
		[]Input{w.ownedInput(t, 10, 0, 1), w.ownedInput(t, 10, 1, 3)},
		[]Output{{Amount: 15, Key: randomKey(t)}})
	prefixSize := int(b.Size())

	// the first input signs, clearing its ephemeral in the pre-signature
	// region, then the second input cannot clear its own
	presig.budget = 1
	_, _, err = b.Sign()
	require.Error(t, err)
	assert.Equal(t, status.CodeNVRAMWrite, status.CodeOf(err))
	assert.Equal(t, prefixSize, int(b.Size()))

	image := mem.Snapshot()
	assert.NotEqual(t, make([]byte, RingSignatureSize), image[prefixSize:prefixSize+RingSignatureSize])

	presig.budget = -1
	require.NoError(t, b.Reset())
	assert.Equal(t, make([]byte, MaxSize+PreSignaturesSize+InfoSize), mem.Snapshot())
}

func TestDecode_Rejects(t *testing.T) {
	f := newFixture(t)
	f.prepare(t, StartParams{InputCount: 1, OutputCount: 1, TxPublicKey: randomKey(t)},
		[]Input{f.wallet.ownedInput(t, 10, 0, 0)},
		[]Output{{Amount: 5, Key: randomKey(t)}})
	_, _, err := f.builder.Sign()
	require.NoError(t, err)
	raw := f.dumpAll(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", raw[:len(raw)-1]},
		{"trailing", append(append([]byte(nil), raw...), 0)},
		{"version", append([]byte{2}, raw[1:]...)},
		{"input tag", append(append([]byte(nil), raw[:3]...), append([]byte{0x03}, raw[4:]...)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "PREFIX_READY", PrefixReady.String())
	assert.Equal(t, "STATE(0x09)", State(9).String())
}
