package apdu

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trtl-signer/internal/confirm"
	"trtl-signer/internal/crypto"
	"trtl-signer/internal/device"
	"trtl-signer/internal/metrics"
	"trtl-signer/internal/status"
	"trtl-signer/internal/storage"
	"trtl-signer/internal/transaction"
	"trtl-signer/internal/wallet"
)

const testSeedHex = "0f0e0d0c0b0a09080706050403020100f0e0d0c0b0a090807060504030201000"

func newTestDispatcher(t *testing.T, debug bool, c confirm.Confirmer) (*Dispatcher, *device.Device, *prometheus.Registry) {
	t.Helper()
	dev, err := device.New(device.Options{
		Store: storage.NewMemoryStore(device.StoreSize),
		Seed:  wallet.HexSeed{Hex: testSeedHex},
		Debug: debug,
	})
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	return NewDispatcher(dev, c, metrics.New(reg)), dev, reg
}

func newTestClient(t *testing.T, c confirm.Confirmer) (*Client, *device.Device) {
	t.Helper()
	d, dev, _ := newTestDispatcher(t, false, c)
	return NewClient(Local{Dispatcher: d}), dev
}

func ownedInput(t *testing.T, dev *device.Device, amount uint64, realIndex uint8) transaction.Input {
	t.Helper()
	txKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	derivation, err := crypto.GenerateKeyDerivation(txKey.Public, dev.Wallet().ViewPrivate())
	require.NoError(t, err)
	outKey, err := crypto.DerivePublicKey(derivation, 1, dev.Wallet().SpendPublic())
	require.NoError(t, err)

	in := transaction.Input{
		TxPublicKey:     txKey.Public,
		OutputIndex:     1,
		Amount:          amount,
		Offsets:         [crypto.RingSize]uint32{5, 6, 7, 8},
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

func randomPublic(t *testing.T) crypto.Key {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp.Public
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		code status.Code
	}{
		{"short", []byte{CLA, 0x01, 0, 0}, status.CodeWrongInputLength},
		{"bad class", []byte{0x80, 0x01, 0, 0, 0, 0}, status.CodeBadClass},
		{"length mismatch", []byte{CLA, 0x01, 0, 0, 0, 2, 0xaa}, status.CodeWrongInputLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(tt.raw)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.CodeOf(err))
		})
	}

	t.Run("round trip", func(t *testing.T) {
		want := Command{Ins: InsCheckKey, P1: P1Confirm, P2: 7, Data: []byte{1, 2, 3}}
		raw := want.Bytes()
		got, err := ParseCommand(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		raw[HeaderSize] = 0xff
		assert.Equal(t, byte(1), got.Data[0])
	})
}

func TestResponse_Err(t *testing.T) {
	assert.NoError(t, success([]byte{1}).Err())

	err := failure(status.CodeTxAmount).Err()
	assert.Equal(t, status.CodeTxAmount, status.CodeOf(err))

	err = bare(status.CodeBadInstruction).Err()
	assert.Equal(t, status.CodeBadInstruction, status.CodeOf(err))

	resp, err := ParseResponse([]byte{0xaa, 0x90, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa}, resp.Data)
	assert.Equal(t, status.OK, resp.SW)

	_, err = ParseResponse([]byte{0x90})
	assert.Error(t, err)
}

func TestInstructionString(t *testing.T) {
	assert.Equal(t, "TX_SIGN", InsTxSign.String())
	assert.Equal(t, "INS(0xee)", Instruction(0xee).String())
}

func TestDispatcher_Framing(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true, nil)
	ctx := context.Background()

	t.Run("bad class has a bare status", func(t *testing.T) {
		out := d.Exchange(ctx, []byte{0x80, byte(InsVersion), 0, 0, 0, 0})
		assert.Equal(t, []byte{0x6e, 0x00}, out)
	})

	t.Run("unknown instruction has a bare status", func(t *testing.T) {
		out := d.Exchange(ctx, Command{Ins: 0xee}.Bytes())
		assert.Equal(t, []byte{0x6d, 0x00}, out)
	})

	t.Run("wrong data length", func(t *testing.T) {
		out := d.Exchange(ctx, Command{Ins: InsCheckKey, Data: make([]byte, 31)}.Bytes())
		assert.Equal(t, []byte{0x40, 0x02, 0x69, 0x85}, out)

		out = d.Exchange(ctx, Command{Ins: InsVersion, Data: []byte{1}}.Bytes())
		assert.Equal(t, []byte{0x40, 0x02, 0x69, 0x85}, out)
	})

	t.Run("version", func(t *testing.T) {
		out := d.Exchange(ctx, Command{Ins: InsVersion}.Bytes())
		assert.Equal(t, []byte{1, 0, 0, 0x90, 0x00}, out)
	})
}

func TestClient_Keys(t *testing.T) {
	ctx := context.Background()
	c, dev := newTestClient(t, confirm.Static(confirm.Approve))
	w := dev.Wallet()

	spend, view, err := c.PublicKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.SpendPublic(), spend)
	assert.Equal(t, w.ViewPublic(), view)

	addr, err := c.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), addr)
	assert.Len(t, addr, wallet.AddressSize)

	viewPriv, err := c.ViewSecretKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.ViewPrivate(), viewPriv)

	spendPriv, err := c.SpendSecretKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.SpendPrivate(), spendPriv)

	spendPub, viewPriv2, err := c.ViewWalletKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, spend, spendPub)
	assert.Equal(t, viewPriv, viewPriv2)

	ident, err := c.Ident(ctx)
	require.NoError(t, err)
	assert.Equal(t, wallet.Magic, string(ident[:]))

	debug, err := c.Debug(ctx)
	require.NoError(t, err)
	assert.False(t, debug)
}

func TestClient_Primitives(t *testing.T) {
	ctx := context.Background()
	c, dev := newTestClient(t, confirm.Static(confirm.Approve))

	kp, err := c.RandomKeyPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PrivateToPublic(kp.Private), kp.Public)

	pub, err := c.PrivateToPublic(ctx, kp.Private)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, pub)

	_, err = c.PrivateToPublic(ctx, crypto.Key{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	assert.Equal(t, status.CodePrivateToPublic, status.CodeOf(err))

	ok, err := c.CheckKey(ctx, kp.Public)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.CheckScalar(ctx, kp.Private)
	require.NoError(t, err)
	assert.True(t, ok)

	message := crypto.Keccak([]byte("digest"))
	sig, err := c.GenerateSignature(ctx, message)
	require.NoError(t, err)
	ok, err = c.CheckSignature(ctx, message, dev.Wallet().SpendPublic(), sig)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.CheckSignature(ctx, crypto.Keccak([]byte("other")), dev.Wallet().SpendPublic(), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	in := ownedInput(t, dev, 100, 2)
	derivation, err := c.GenerateKeyDerivation(ctx, in.TxPublicKey)
	require.NoError(t, err)
	outKey, err := c.DerivePublicKey(ctx, derivation, uint32(in.OutputIndex))
	require.NoError(t, err)
	assert.Equal(t, in.PublicKeys[2], outKey)
	priv, err := c.DeriveSecretKey(ctx, derivation, uint32(in.OutputIndex))
	require.NoError(t, err)
	assert.Equal(t, outKey, crypto.PrivateToPublic(priv))

	image, err := c.GenerateKeyImage(ctx, in.TxPublicKey, uint32(in.OutputIndex), outKey)
	require.NoError(t, err)
	image2, err := c.GenerateKeyImagePrimitive(ctx, derivation, uint32(in.OutputIndex), outKey)
	require.NoError(t, err)
	assert.Equal(t, image, image2)

	_, err = c.GenerateKeyImage(ctx, in.TxPublicKey, uint32(in.OutputIndex), in.PublicKeys[0])
	assert.Equal(t, status.CodePubkeyMismatch, status.CodeOf(err))

	prefix := crypto.Keccak([]byte("prefix"))
	sigs, err := c.GenerateRingSignatures(ctx, in.TxPublicKey, uint32(in.OutputIndex), outKey, prefix, in.PublicKeys, 2)
	require.NoError(t, err)
	ok, err = c.CheckRingSignatures(ctx, prefix, image, in.PublicKeys, sigs)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.CheckRingSignatures(ctx, crypto.Keccak([]byte("x")), image, in.PublicKeys, sigs)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.GenerateRingSignatures(ctx, in.TxPublicKey, uint32(in.OutputIndex), outKey, prefix, in.PublicKeys, 4)
	assert.Equal(t, status.CodeOutOfRange, status.CodeOf(err))

	t.Run("complete ring signature", func(t *testing.T) {
		prepared, k, err := crypto.PrepareRingSignatures(prefix, image, in.PublicKeys, 2)
		require.NoError(t, err)
		completed, err := c.CompleteRingSignature(ctx, in.TxPublicKey, uint32(in.OutputIndex), outKey, k, prepared[2])
		require.NoError(t, err)
		prepared[2] = completed
		ok, err := c.CheckRingSignatures(ctx, prefix, image, in.PublicKeys, prepared)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestClient_TransactionEndToEnd(t *testing.T) {
	ctx := context.Background()
	var prompts []confirm.Prompt
	c, dev := newTestClient(t, confirm.Func(func(ctx context.Context, p confirm.Prompt) (confirm.Decision, error) {
		prompts = append(prompts, p)
		return confirm.Approve, nil
	}))

	in := ownedInput(t, dev, 1250, 1)
	txPub := randomPublic(t)
	dest := randomPublic(t)
	pid := crypto.Keccak([]byte("payment"))

	require.NoError(t, c.TxStart(ctx, transaction.StartParams{
		InputCount:   1,
		OutputCount:  1,
		TxPublicKey:  txPub,
		HasPaymentID: true,
		PaymentID:    pid,
	}))
	state, err := c.TxState(ctx)
	require.NoError(t, err)
	assert.Equal(t, transaction.Ready, state)

	// key export is refused while a transaction is open
	_, err = c.ViewSecretKey(ctx)
	assert.Equal(t, status.CodeTransactionState, status.CodeOf(err))

	require.NoError(t, c.TxStartInputLoad(ctx))
	require.NoError(t, c.TxLoadInput(ctx, in))
	require.NoError(t, c.TxStartOutputLoad(ctx))
	require.NoError(t, c.TxLoadOutput(ctx, transaction.Output{Amount: 1000, Key: dest}))
	require.NoError(t, c.TxFinalizePrefix(ctx))

	hash, size, err := c.TxSign(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, prompts)
	last := prompts[len(prompts)-1]
	assert.Equal(t, "TX_SIGN", last.Command)
	assert.Equal(t, "Sign Transaction?", last.Title)
	require.Len(t, last.Fields, 2)
	assert.Equal(t, "12.50 TRTL", last.Fields[0].Value)
	assert.Equal(t, "2.50 TRTL", last.Fields[1].Value)

	raw, err := c.TxDumpAll(ctx, size)
	require.NoError(t, err)
	assert.Len(t, raw, int(size))
	assert.Equal(t, hash, crypto.Keccak(raw))

	tx, err := transaction.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), tx.Fee())
	require.NotNil(t, tx.PaymentID)
	assert.Equal(t, pid, *tx.PaymentID)
	assert.Equal(t, txPub, tx.TxPublicKey)

	ok, err := c.CheckRingSignatures(ctx, tx.PrefixHash(), tx.Inputs[0].KeyImage, in.PublicKeys, tx.Signatures[0])
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.TxReset(ctx))
	state, err = c.TxState(ctx)
	require.NoError(t, err)
	assert.Equal(t, transaction.Unused, state)

	// resetting an idle builder does not prompt
	n := len(prompts)
	require.NoError(t, c.TxReset(ctx))
	assert.Len(t, prompts, n)
}

func TestClient_TransactionErrors(t *testing.T) {
	ctx := context.Background()
	c, dev := newTestClient(t, confirm.Static(confirm.Approve))

	err := c.TxStartInputLoad(ctx)
	assert.Equal(t, status.CodeTransactionState, status.CodeOf(err))

	_, err = c.TxDump(ctx, 0)
	assert.Equal(t, status.CodeTransactionState, status.CodeOf(err))

	t.Run("payment id flag must match length", func(t *testing.T) {
		data := EncodeTxStart(transaction.StartParams{InputCount: 1, OutputCount: 1, TxPublicKey: randomPublic(t)})
		data[len(data)-1] = 1
		_, err := c.Do(ctx, InsTxStart, data)
		assert.Equal(t, status.CodeWrongInputLength, status.CodeOf(err))
	})

	t.Run("foreign input", func(t *testing.T) {
		require.NoError(t, c.TxStart(ctx, transaction.StartParams{InputCount: 1, OutputCount: 1, TxPublicKey: randomPublic(t)}))
		require.NoError(t, c.TxStartInputLoad(ctx))
		in := ownedInput(t, dev, 10, 0)
		in.PublicKeys[0] = randomPublic(t)
		err := c.TxLoadInput(ctx, in)
		assert.Equal(t, status.CodePubkeyMismatch, status.CodeOf(err))
		assert.Equal(t, uint8(0), dev.Tx().Meta().ReceivedInputCount)
		require.NoError(t, c.TxReset(ctx))
	})
}

func TestGate(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected", func(t *testing.T) {
		c, _ := newTestClient(t, confirm.Static(confirm.Reject))
		_, _, err := c.PublicKeys(ctx)
		assert.Equal(t, status.CodeOpNotPermitted, status.CodeOf(err))
	})

	t.Run("non confirm request on production device", func(t *testing.T) {
		c, _ := newTestClient(t, confirm.Static(confirm.Approve))
		c.Confirm = false
		_, _, err := c.PublicKeys(ctx)
		assert.Equal(t, status.CodeOpUserRequired, status.CodeOf(err))

		// ungated commands still run
		_, err = c.Version(ctx)
		assert.NoError(t, err)
	})

	t.Run("non confirm request on debug device", func(t *testing.T) {
		d, _, _ := newTestDispatcher(t, true, confirm.Static(confirm.Reject))
		c := NewClient(Local{Dispatcher: d})
		c.Confirm = false
		_, _, err := c.PublicKeys(ctx)
		assert.NoError(t, err)
	})

	t.Run("unknown P1", func(t *testing.T) {
		d, _, _ := newTestDispatcher(t, true, confirm.Static(confirm.Approve))
		out := d.Exchange(ctx, Command{Ins: InsAddress, P1: 0x05}.Bytes())
		resp, err := ParseResponse(out)
		require.NoError(t, err)
		assert.Equal(t, status.CodeOpUserRequired, status.CodeOf(resp.Err()))
	})

	t.Run("approve all skips later prompts", func(t *testing.T) {
		var calls atomic.Int32
		c, dev := newTestClient(t, confirm.Func(func(ctx context.Context, p confirm.Prompt) (confirm.Decision, error) {
			calls.Add(1)
			return confirm.ApproveAll, nil
		}))
		txPub := randomPublic(t)
		for range 3 {
			_, err := c.GenerateKeyDerivation(ctx, txPub)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), calls.Load())
		assert.True(t, dev.PreApproved(InsGenerateKeyDerivation.String()))

		// other commands still prompt
		_, err := c.Address(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		assert.False(t, dev.PreApproved(InsAddress.String()))
	})

	t.Run("confirmer error", func(t *testing.T) {
		c, _ := newTestClient(t, confirm.Func(func(ctx context.Context, p confirm.Prompt) (confirm.Decision, error) {
			return confirm.Reject, context.Canceled
		}))
		_, err := c.Address(ctx)
		assert.Equal(t, status.CodeOpNotPermitted, status.CodeOf(err))
	})
}

func TestClient_ResetKeys(t *testing.T) {
	ctx := context.Background()
	d, dev, _ := newTestDispatcher(t, false, confirm.Static(confirm.Approve))
	c := NewClient(Local{Dispatcher: d})
	before := dev.Wallet().Address()

	require.NoError(t, c.ResetKeys(ctx))
	// the hex seed reproduces the same wallet
	assert.Equal(t, before, dev.Wallet().Address())
	assert.True(t, dev.Wallet().Ready())
}

func TestDispatcher_Metrics(t *testing.T) {
	ctx := context.Background()
	d, _, reg := newTestDispatcher(t, false, confirm.Static(confirm.Reject))
	c := NewClient(Local{Dispatcher: d})

	_, err := c.Version(ctx)
	require.NoError(t, err)
	_, err = c.Address(ctx)
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "trtl_signer_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "trtl_signer_confirmations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_WipesSecretResponses(t *testing.T) {
	ctx := context.Background()
	d, dev, _ := newTestDispatcher(t, false, confirm.Static(confirm.Approve))

	derivation, err := crypto.GenerateKeyDerivation(randomPublic(t), dev.Wallet().ViewPrivate())
	require.NoError(t, err)

	tests := []struct {
		ins  Instruction
		data []byte
	}{
		{InsViewSecretKey, nil},
		{InsSpendSecretKey, nil},
		{InsViewWalletKeys, nil},
		{InsRandomKeyPair, nil},
		{InsDeriveSecretKey, (&writer{}).key(derivation).u32(3).b},
	}
	for _, tt := range tests {
		t.Run(tt.ins.String(), func(t *testing.T) {
			var held []byte
			r := d.routes[tt.ins]
			inner := r.handle
			r.handle = func(ctx context.Context, cmd Command) ([]byte, error) {
				data, err := inner(ctx, cmd)
				held = data
				return data, err
			}
			d.routes[tt.ins] = r

			out := d.Exchange(ctx, Command{Ins: tt.ins, P1: P1Confirm, Data: tt.data}.Bytes())
			require.NotEmpty(t, held)
			require.Len(t, out, len(held)+2)
			assert.Equal(t, []byte{0x90, 0x00}, out[len(held):])
			assert.NotEqual(t, make([]byte, len(held)), out[:len(held)])
			assert.Equal(t, make([]byte, len(held)), held)
		})
	}

	t.Run("public responses are left alone", func(t *testing.T) {
		assert.False(t, secretResponses[InsPublicKeys])
		assert.False(t, secretResponses[InsAddress])
	})
}

func TestPayloadSizes(t *testing.T) {
	assert.Equal(t, 36, DerivePayloadSize)
	assert.Equal(t, 68, KeyImagePayloadSize)
	assert.Equal(t, 232, GenerateRingPayloadSize)
	assert.Equal(t, 164, CompleteRingPayloadSize)
	assert.Equal(t, 448, CheckRingPayloadSize)
	assert.Equal(t, 128, CheckSignaturePayloadSize)
	assert.Equal(t, 43, TxStartPayloadSize)
	assert.Equal(t, 75, TxStartPaymentIDPayloadSize)
	assert.Equal(t, 186, TxLoadInputPayloadSize)
	assert.Equal(t, 40, TxLoadOutputPayloadSize)

	in := transaction.Input{OutputIndex: 3, Amount: 0x0102030405060708, RealOutputIndex: 2}
	in.Offsets = [crypto.RingSize]uint32{1, 2, 3, 0xdeadbeef}
	raw := EncodeTxLoadInput(in)
	require.Len(t, raw, TxLoadInputPayloadSize)
	assert.Equal(t, uint64(0x0102030405060708), binary.BigEndian.Uint64(raw[33:41]))
	assert.Equal(t, in, decodeTxLoadInput(raw))
}
