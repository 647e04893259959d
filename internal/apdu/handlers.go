package apdu

import (
	"context"
	"encoding/hex"
	"fmt"

	"trtl-signer/internal/confirm"
	"trtl-signer/internal/crypto"
	"trtl-signer/internal/status"
	"trtl-signer/internal/transaction"
)

func (d *Dispatcher) buildRoutes() map[Instruction]route {
	one := func(n int) []int { return []int{n} }
	return map[Instruction]route{
		InsVersion:                   {nil, d.handleVersion},
		InsDebug:                     {nil, d.handleDebug},
		InsIdent:                     {nil, d.handleIdent},
		InsPublicKeys:                {nil, d.handlePublicKeys},
		InsViewSecretKey:             {nil, d.handleViewSecretKey},
		InsSpendSecretKey:            {nil, d.handleSpendSecretKey},
		InsViewWalletKeys:            {nil, d.handleViewWalletKeys},
		InsCheckKey:                  {one(keySize), d.handleCheckKey},
		InsCheckScalar:               {one(keySize), d.handleCheckScalar},
		InsPrivateToPublic:           {one(keySize), d.handlePrivateToPublic},
		InsRandomKeyPair:             {nil, d.handleRandomKeyPair},
		InsAddress:                   {nil, d.handleAddress},
		InsGenerateKeyImage:          {one(KeyImagePayloadSize), d.handleGenerateKeyImage},
		InsGenerateKeyImagePrimitive: {one(KeyImagePayloadSize), d.handleGenerateKeyImagePrimitive},
		InsGenerateRingSignatures:    {one(GenerateRingPayloadSize), d.handleGenerateRingSignatures},
		InsCompleteRingSignature:     {one(CompleteRingPayloadSize), d.handleCompleteRingSignature},
		InsCheckRingSignatures:       {one(CheckRingPayloadSize), d.handleCheckRingSignatures},
		InsGenerateSignature:         {one(keySize), d.handleGenerateSignature},
		InsCheckSignature:            {one(CheckSignaturePayloadSize), d.handleCheckSignature},
		InsGenerateKeyDerivation:     {one(keySize), d.handleGenerateKeyDerivation},
		InsDerivePublicKey:           {one(DerivePayloadSize), d.handleDerivePublicKey},
		InsDeriveSecretKey:           {one(DerivePayloadSize), d.handleDeriveSecretKey},
		InsTxState:                   {nil, d.handleTxState},
		InsTxStart:                   {[]int{TxStartPayloadSize, TxStartPaymentIDPayloadSize}, d.handleTxStart},
		InsTxStartInputLoad:          {nil, d.handleTxStartInputLoad},
		InsTxLoadInput:               {one(TxLoadInputPayloadSize), d.handleTxLoadInput},
		InsTxStartOutputLoad:         {nil, d.handleTxStartOutputLoad},
		InsTxLoadOutput:              {one(TxLoadOutputPayloadSize), d.handleTxLoadOutput},
		InsTxFinalizePrefix:          {nil, d.handleTxFinalizePrefix},
		InsTxSign:                    {nil, d.handleTxSign},
		InsTxDump:                    {one(TxDumpPayloadSize), d.handleTxDump},
		InsTxReset:                   {nil, d.handleTxReset},
		InsResetKeys:                 {nil, d.handleResetKeys},
	}
}

// secretResponses carry private keys in their response data
var secretResponses = map[Instruction]bool{
	InsViewSecretKey:   true,
	InsSpendSecretKey:  true,
	InsViewWalletKeys:  true,
	InsRandomKeyPair:   true,
	InsDeriveSecretKey: true,
}

func keyHex(k crypto.Key) string {
	return hex.EncodeToString(k[:])
}

func flag(ok bool) []byte {
	if ok {
		return []byte{1}
	}
	return []byte{0}
}

func (d *Dispatcher) handleVersion(ctx context.Context, cmd Command) ([]byte, error) {
	v := d.dev.Version()
	return v[:], nil
}

func (d *Dispatcher) handleDebug(ctx context.Context, cmd Command) ([]byte, error) {
	return flag(d.dev.Debug()), nil
}

func (d *Dispatcher) handleIdent(ctx context.Context, cmd Command) ([]byte, error) {
	id := d.dev.Ident()
	return id[:], nil
}

func (d *Dispatcher) handlePublicKeys(ctx context.Context, cmd Command) ([]byte, error) {
	w := d.dev.Wallet()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title: "Export Public Keys?",
		Fields: []confirm.Field{
			{Label: "Public Spend", Value: keyHex(w.SpendPublic())},
			{Label: "Public View", Value: keyHex(w.ViewPublic())},
		},
	})
	if err != nil {
		return nil, err
	}
	keys := w.PublicKeys()
	return keys[:], nil
}

func (d *Dispatcher) handleViewSecretKey(ctx context.Context, cmd Command) ([]byte, error) {
	const op = "view secret key"
	if err := d.requireUnused(op); err != nil {
		return nil, err
	}
	if err := d.gate(ctx, cmd, confirm.Prompt{Title: "Export View Private Key?"}); err != nil {
		return nil, err
	}
	k := d.dev.Wallet().ViewPrivate()
	defer k.Wipe()
	return append([]byte(nil), k[:]...), nil
}

func (d *Dispatcher) handleSpendSecretKey(ctx context.Context, cmd Command) ([]byte, error) {
	const op = "spend secret key"
	if err := d.requireUnused(op); err != nil {
		return nil, err
	}
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title: "Export Spend Private Key?",
		Fields: []confirm.Field{{
			Label: "!! Warning !!",
			Value: "Doing this will expose your private spend key",
		}},
	})
	if err != nil {
		return nil, err
	}
	k := d.dev.Wallet().SpendPrivate()
	defer k.Wipe()
	return append([]byte(nil), k[:]...), nil
}

func (d *Dispatcher) handleViewWalletKeys(ctx context.Context, cmd Command) ([]byte, error) {
	const op = "view wallet keys"
	if err := d.requireUnused(op); err != nil {
		return nil, err
	}
	w := d.dev.Wallet()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:  "Export View Wallet Keys?",
		Fields: []confirm.Field{{Label: "Public Spend", Value: keyHex(w.SpendPublic())}},
	})
	if err != nil {
		return nil, err
	}
	view := w.ViewPrivate()
	defer view.Wipe()
	spend := w.SpendPublic()
	return (&writer{}).key(spend).key(view).b, nil
}

func (d *Dispatcher) handleCheckKey(ctx context.Context, cmd Command) ([]byte, error) {
	return flag(crypto.CheckKey((&reader{b: cmd.Data}).key())), nil
}

func (d *Dispatcher) handleCheckScalar(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("check scalar"); err != nil {
		return nil, err
	}
	return flag(crypto.CheckScalar((&reader{b: cmd.Data}).key())), nil
}

func (d *Dispatcher) handlePrivateToPublic(ctx context.Context, cmd Command) ([]byte, error) {
	priv := (&reader{b: cmd.Data}).key()
	defer priv.Wipe()
	if !crypto.CheckScalar(priv) {
		return nil, status.New(status.CodePrivateToPublic, "private to public")
	}
	pub := crypto.PrivateToPublic(priv)
	return pub[:], nil
}

func (d *Dispatcher) handleRandomKeyPair(ctx context.Context, cmd Command) ([]byte, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, status.Wrap(status.CodeUnknown, "random key pair", err)
	}
	defer kp.Private.Wipe()
	return (&writer{}).key(kp.Public).key(kp.Private).b, nil
}

func (d *Dispatcher) handleAddress(ctx context.Context, cmd Command) ([]byte, error) {
	addr := d.dev.Wallet().Address()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:  "Export Wallet Address?",
		Fields: []confirm.Field{{Label: "Address", Value: addr}},
	})
	if err != nil {
		return nil, err
	}
	return []byte(addr), nil
}

func (d *Dispatcher) handleGenerateKeyImage(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("generate key image"); err != nil {
		return nil, err
	}
	r := &reader{b: cmd.Data}
	txPub, index, outKey := r.key(), r.u32(), r.key()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:  "Generate Key Image?",
		Fields: []confirm.Field{{Label: "Output Key", Value: keyHex(outKey)}},
	})
	if err != nil {
		return nil, err
	}
	image, err := d.dev.GenerateKeyImage(txPub, index, outKey)
	if err != nil {
		return nil, err
	}
	return image[:], nil
}

func (d *Dispatcher) handleGenerateKeyImagePrimitive(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("generate key image primitive"); err != nil {
		return nil, err
	}
	r := &reader{b: cmd.Data}
	derivation, index, outKey := r.key(), r.u32(), r.key()
	defer derivation.Wipe()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:    "Generate Key Image?",
		Fields:   []confirm.Field{{Label: "Output Key", Value: keyHex(outKey)}},
		AllowAll: true,
	})
	if err != nil {
		return nil, err
	}
	image, err := d.dev.GenerateKeyImagePrimitive(derivation, index, outKey)
	if err != nil {
		return nil, err
	}
	return image[:], nil
}

func (d *Dispatcher) handleGenerateRingSignatures(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("generate ring signatures"); err != nil {
		return nil, err
	}
	r := &reader{b: cmd.Data}
	txPub, index, outKey, prefix := r.key(), r.u32(), r.key(), r.key()
	pubs, realIndex := r.keys(), r.u32()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:  "Generate Ring Signatures?",
		Fields: []confirm.Field{{Label: "Output Key", Value: keyHex(outKey)}},
	})
	if err != nil {
		return nil, err
	}
	sigs, err := d.dev.GenerateRingSignatures(txPub, index, outKey, prefix, pubs, realIndex)
	if err != nil {
		return nil, err
	}
	w := &writer{}
	for _, s := range sigs {
		w.signature(s)
	}
	return w.b, nil
}

func (d *Dispatcher) handleCompleteRingSignature(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("complete ring signature"); err != nil {
		return nil, err
	}
	r := &reader{b: cmd.Data}
	txPub, index, outKey, k, sig := r.key(), r.u32(), r.key(), r.key(), r.signature()
	defer k.Wipe()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:  "Complete Ring Signature?",
		Fields: []confirm.Field{{Label: "Output Key", Value: keyHex(outKey)}},
	})
	if err != nil {
		return nil, err
	}
	out, err := d.dev.CompleteRingSignature(txPub, index, outKey, k, sig)
	if err != nil {
		return nil, err
	}
	return out[:], nil
}

func (d *Dispatcher) handleCheckRingSignatures(ctx context.Context, cmd Command) ([]byte, error) {
	r := &reader{b: cmd.Data}
	prefix, image, pubs := r.key(), r.key(), r.keys()
	var sigs crypto.RingSignature
	for i := range sigs {
		sigs[i] = r.signature()
	}
	ok, err := crypto.CheckRingSignatures(prefix, image, pubs, sigs)
	if err != nil {
		return nil, status.Wrap(status.CodeCheckRingSigs, "check ring signatures", err)
	}
	return flag(ok), nil
}

func (d *Dispatcher) handleGenerateSignature(ctx context.Context, cmd Command) ([]byte, error) {
	message := (&reader{b: cmd.Data}).key()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:  "Generate Signature?",
		Fields: []confirm.Field{{Label: "Sign Digest?", Value: keyHex(message)}},
	})
	if err != nil {
		return nil, err
	}
	sig, err := d.dev.GenerateSignature(message)
	if err != nil {
		return nil, err
	}
	return sig[:], nil
}

func (d *Dispatcher) handleCheckSignature(ctx context.Context, cmd Command) ([]byte, error) {
	r := &reader{b: cmd.Data}
	message, pub, sig := r.key(), r.key(), r.signature()
	ok, err := crypto.CheckSignature(message, pub, sig)
	if err != nil {
		return nil, status.Wrap(status.CodeCheckSignature, "check signature", err)
	}
	return flag(ok), nil
}

func (d *Dispatcher) handleGenerateKeyDerivation(ctx context.Context, cmd Command) ([]byte, error) {
	txPub := (&reader{b: cmd.Data}).key()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:    "Generate Derivation?",
		Fields:   []confirm.Field{{Label: "Tx Public Key", Value: keyHex(txPub)}},
		AllowAll: true,
	})
	if err != nil {
		return nil, err
	}
	derivation, err := d.dev.GenerateKeyDerivation(txPub)
	if err != nil {
		return nil, err
	}
	return derivation[:], nil
}

func (d *Dispatcher) handleDerivePublicKey(ctx context.Context, cmd Command) ([]byte, error) {
	r := &reader{b: cmd.Data}
	derivation, index := r.key(), r.u32()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:    "Derive Public Key?",
		Fields:   []confirm.Field{{Label: "Derivation", Value: keyHex(derivation)}},
		AllowAll: true,
	})
	if err != nil {
		return nil, err
	}
	pub, err := d.dev.DerivePublicKey(derivation, index)
	if err != nil {
		return nil, err
	}
	return pub[:], nil
}

func (d *Dispatcher) handleDeriveSecretKey(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("derive secret key"); err != nil {
		return nil, err
	}
	r := &reader{b: cmd.Data}
	derivation, index := r.key(), r.u32()
	defer derivation.Wipe()
	err := d.gate(ctx, cmd, confirm.Prompt{
		Title:  "Derive Secret Key?",
		Fields: []confirm.Field{{Label: "Derivation", Value: keyHex(derivation)}},
	})
	if err != nil {
		return nil, err
	}
	priv, err := d.dev.DeriveSecretKey(derivation, index)
	if err != nil {
		return nil, err
	}
	defer priv.Wipe()
	return append([]byte(nil), priv[:]...), nil
}

func (d *Dispatcher) handleTxState(ctx context.Context, cmd Command) ([]byte, error) {
	return []byte{byte(d.dev.Tx().State())}, nil
}

func (d *Dispatcher) handleTxStart(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("tx start"); err != nil {
		return nil, err
	}
	p := decodeTxStart(cmd.Data)
	if p.HasPaymentID != (len(cmd.Data) == TxStartPaymentIDPayloadSize) {
		return nil, status.Wrap(status.CodeWrongInputLength, "tx start",
			fmt.Errorf("payment id flag does not match %d byte payload", len(cmd.Data)))
	}
	return nil, d.dev.Tx().Start(p)
}

func (d *Dispatcher) handleTxStartInputLoad(ctx context.Context, cmd Command) ([]byte, error) {
	return nil, d.dev.Tx().StartInputLoad()
}

func (d *Dispatcher) handleTxLoadInput(ctx context.Context, cmd Command) ([]byte, error) {
	return nil, d.dev.Tx().LoadInput(decodeTxLoadInput(cmd.Data))
}

func (d *Dispatcher) handleTxStartOutputLoad(ctx context.Context, cmd Command) ([]byte, error) {
	return nil, d.dev.Tx().StartOutputLoad()
}

func (d *Dispatcher) handleTxLoadOutput(ctx context.Context, cmd Command) ([]byte, error) {
	return nil, d.dev.Tx().LoadOutput(decodeTxLoadOutput(cmd.Data))
}

func (d *Dispatcher) handleTxFinalizePrefix(ctx context.Context, cmd Command) ([]byte, error) {
	return nil, d.dev.Tx().FinalizePrefix()
}

func (d *Dispatcher) handleTxSign(ctx context.Context, cmd Command) ([]byte, error) {
	tx := d.dev.Tx()
	if tx.State() != transaction.PrefixReady {
		return nil, status.New(status.CodeTransactionState, "tx sign")
	}
	amount, err := confirm.FormatAmount(tx.InputAmount(), confirm.DisplayWidth)
	if err != nil {
		return nil, err
	}
	fee, err := confirm.FormatAmount(tx.Fee(), confirm.DisplayWidth)
	if err != nil {
		return nil, err
	}
	err = d.gate(ctx, cmd, confirm.Prompt{
		Title: "Sign Transaction?",
		Fields: []confirm.Field{
			{Label: "Amount to Spend", Value: amount},
			{Label: "Network Fee", Value: fee},
		},
	})
	if err != nil {
		return nil, err
	}
	hash, size, err := tx.Sign()
	if err != nil {
		return nil, err
	}
	return (&writer{}).key(hash).u16(size).b, nil
}

func (d *Dispatcher) handleTxDump(ctx context.Context, cmd Command) ([]byte, error) {
	offset := (&reader{b: cmd.Data}).u16()
	return d.dev.Tx().DumpChunk(offset)
}

func (d *Dispatcher) handleTxReset(ctx context.Context, cmd Command) ([]byte, error) {
	tx := d.dev.Tx()
	if tx.State() == transaction.Unused {
		return nil, nil
	}
	if err := d.gate(ctx, cmd, confirm.Prompt{Title: "Reset Transaction State?"}); err != nil {
		return nil, err
	}
	return nil, tx.Reset()
}

func (d *Dispatcher) handleResetKeys(ctx context.Context, cmd Command) ([]byte, error) {
	if err := d.requireUnused("reset keys"); err != nil {
		return nil, err
	}
	if err := d.gate(ctx, cmd, confirm.Prompt{Title: "Reset Wallet Keys?"}); err != nil {
		return nil, err
	}
	return nil, d.dev.ResetKeys()
}
