package apdu

import (
	"context"
	"fmt"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/transaction"
)

// Exchanger carries one raw request to a device and returns its raw
// response
type Exchanger interface {
	Exchange(ctx context.Context, request []byte) ([]byte, error)
}

// Local exchanges with an in-process dispatcher
type Local struct {
	Dispatcher *Dispatcher
}

// Exchange implements Exchanger
func (l Local) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	return l.Dispatcher.Exchange(ctx, request), nil
}

// Client issues typed commands over an Exchanger
type Client struct {
	ex Exchanger

	// Confirm sets P1 so the device prompts before sensitive operations
	Confirm bool
}

// NewClient returns a client that asks the device to confirm
func NewClient(ex Exchanger) *Client {
	return &Client{ex: ex, Confirm: true}
}

// Do sends a command and returns its data, or the device error
func (c *Client) Do(ctx context.Context, ins Instruction, data []byte) ([]byte, error) {
	if len(data) > MaxDataSize {
		return nil, fmt.Errorf("%s data of %d bytes exceeds %d", ins, len(data), MaxDataSize)
	}
	p1 := byte(P1NonConfirm)
	if c.Confirm {
		p1 = P1Confirm
	}
	cmd := Command{Ins: ins, P1: p1, Data: data}
	raw, err := c.ex.Exchange(ctx, cmd.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s exchange failed: %w", ins, err)
	}
	resp, err := ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ins, err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", ins, err)
	}
	return resp.Data, nil
}

func (c *Client) doSized(ctx context.Context, ins Instruction, data []byte, want int) ([]byte, error) {
	out, err := c.Do(ctx, ins, data)
	if err != nil {
		return nil, err
	}
	if len(out) != want {
		return nil, fmt.Errorf("%s returned %d bytes, expected %d", ins, len(out), want)
	}
	return out, nil
}

func (c *Client) doKey(ctx context.Context, ins Instruction, data []byte) (crypto.Key, error) {
	out, err := c.doSized(ctx, ins, data, keySize)
	if err != nil {
		return crypto.Key{}, err
	}
	return (&reader{b: out}).key(), nil
}

func (c *Client) doFlag(ctx context.Context, ins Instruction, data []byte) (bool, error) {
	out, err := c.doSized(ctx, ins, data, 1)
	if err != nil {
		return false, err
	}
	return out[0] == 1, nil
}

func (c *Client) doEmpty(ctx context.Context, ins Instruction, data []byte) error {
	_, err := c.doSized(ctx, ins, data, 0)
	return err
}

// Version returns major, minor and patch
func (c *Client) Version(ctx context.Context) ([3]byte, error) {
	var v [3]byte
	out, err := c.doSized(ctx, InsVersion, nil, 3)
	if err != nil {
		return v, err
	}
	copy(v[:], out)
	return v, nil
}

// Debug reports whether the device skips prompts for non-confirm requests
func (c *Client) Debug(ctx context.Context) (bool, error) {
	return c.doFlag(ctx, InsDebug, nil)
}

// Ident returns the wallet magic
func (c *Client) Ident(ctx context.Context) (crypto.Key, error) {
	return c.doKey(ctx, InsIdent, nil)
}

// PublicKeys returns the public spend and view keys
func (c *Client) PublicKeys(ctx context.Context) (spend, view crypto.Key, err error) {
	out, err := c.doSized(ctx, InsPublicKeys, nil, 2*keySize)
	if err != nil {
		return spend, view, err
	}
	r := &reader{b: out}
	return r.key(), r.key(), nil
}

// ViewSecretKey exports the private view key
func (c *Client) ViewSecretKey(ctx context.Context) (crypto.Key, error) {
	return c.doKey(ctx, InsViewSecretKey, nil)
}

// SpendSecretKey exports the private spend key
func (c *Client) SpendSecretKey(ctx context.Context) (crypto.Key, error) {
	return c.doKey(ctx, InsSpendSecretKey, nil)
}

// ViewWalletKeys returns the public spend key and the private view key
func (c *Client) ViewWalletKeys(ctx context.Context) (spendPub, viewPriv crypto.Key, err error) {
	out, err := c.doSized(ctx, InsViewWalletKeys, nil, 2*keySize)
	if err != nil {
		return spendPub, viewPriv, err
	}
	r := &reader{b: out}
	return r.key(), r.key(), nil
}

// CheckKey reports whether k looks like a public key
func (c *Client) CheckKey(ctx context.Context, k crypto.Key) (bool, error) {
	return c.doFlag(ctx, InsCheckKey, k[:])
}

// CheckScalar reports whether s is a reduced scalar
func (c *Client) CheckScalar(ctx context.Context, s crypto.Key) (bool, error) {
	return c.doFlag(ctx, InsCheckScalar, s[:])
}

// PrivateToPublic computes priv*G on the device
func (c *Client) PrivateToPublic(ctx context.Context, priv crypto.Key) (crypto.Key, error) {
	return c.doKey(ctx, InsPrivateToPublic, priv[:])
}

// RandomKeyPair asks the device for a fresh key pair
func (c *Client) RandomKeyPair(ctx context.Context) (crypto.KeyPair, error) {
	out, err := c.doSized(ctx, InsRandomKeyPair, nil, 2*keySize)
	if err != nil {
		return crypto.KeyPair{}, err
	}
	r := &reader{b: out}
	return crypto.KeyPair{Public: r.key(), Private: r.key()}, nil
}

// Address returns the Base58 wallet address
func (c *Client) Address(ctx context.Context) (string, error) {
	out, err := c.Do(ctx, InsAddress, nil)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// GenerateKeyImage computes the key image of an owned output
func (c *Client) GenerateKeyImage(ctx context.Context, txPub crypto.Key, outputIndex uint32, outputKey crypto.Key) (crypto.Key, error) {
	return c.doKey(ctx, InsGenerateKeyImage, (&writer{}).key(txPub).u32(outputIndex).key(outputKey).b)
}

// GenerateKeyImagePrimitive computes a key image from a derivation
func (c *Client) GenerateKeyImagePrimitive(ctx context.Context, derivation crypto.Key, outputIndex uint32, outputKey crypto.Key) (crypto.Key, error) {
	return c.doKey(ctx, InsGenerateKeyImagePrimitive, (&writer{}).key(derivation).u32(outputIndex).key(outputKey).b)
}

// GenerateRingSignatures signs prefix for the owned output at realIndex
func (c *Client) GenerateRingSignatures(ctx context.Context, txPub crypto.Key, outputIndex uint32, outputKey, prefix crypto.Key,
	pubs [crypto.RingSize]crypto.Key, realIndex uint32) (crypto.RingSignature, error) {
	var sigs crypto.RingSignature
	data := (&writer{}).key(txPub).u32(outputIndex).key(outputKey).key(prefix).keys(pubs).u32(realIndex).b
	out, err := c.doSized(ctx, InsGenerateRingSignatures, data, crypto.RingSize*sigSize)
	if err != nil {
		return sigs, err
	}
	r := &reader{b: out}
	for i := range sigs {
		sigs[i] = r.signature()
	}
	return sigs, nil
}

// CompleteRingSignature closes a prepared signature with the nonce k
func (c *Client) CompleteRingSignature(ctx context.Context, txPub crypto.Key, outputIndex uint32, outputKey, k crypto.Key,
	sig crypto.Signature) (crypto.Signature, error) {
	data := (&writer{}).key(txPub).u32(outputIndex).key(outputKey).key(k).signature(sig).b
	out, err := c.doSized(ctx, InsCompleteRingSignature, data, sigSize)
	if err != nil {
		return crypto.Signature{}, err
	}
	return (&reader{b: out}).signature(), nil
}

// CheckRingSignatures verifies ring signatures on the device
func (c *Client) CheckRingSignatures(ctx context.Context, prefix, image crypto.Key, pubs [crypto.RingSize]crypto.Key,
	sigs crypto.RingSignature) (bool, error) {
	w := (&writer{}).key(prefix).key(image).keys(pubs)
	for _, s := range sigs {
		w.signature(s)
	}
	return c.doFlag(ctx, InsCheckRingSignatures, w.b)
}

// GenerateSignature signs a digest with the spend key
func (c *Client) GenerateSignature(ctx context.Context, message crypto.Key) (crypto.Signature, error) {
	out, err := c.doSized(ctx, InsGenerateSignature, message[:], sigSize)
	if err != nil {
		return crypto.Signature{}, err
	}
	return (&reader{b: out}).signature(), nil
}

// CheckSignature verifies a signature on the device
func (c *Client) CheckSignature(ctx context.Context, message, pub crypto.Key, sig crypto.Signature) (bool, error) {
	return c.doFlag(ctx, InsCheckSignature, (&writer{}).key(message).key(pub).signature(sig).b)
}

// GenerateKeyDerivation derives the shared secret with a transaction key
func (c *Client) GenerateKeyDerivation(ctx context.Context, txPub crypto.Key) (crypto.Key, error) {
	return c.doKey(ctx, InsGenerateKeyDerivation, txPub[:])
}

// DerivePublicKey derives an output public key
func (c *Client) DerivePublicKey(ctx context.Context, derivation crypto.Key, outputIndex uint32) (crypto.Key, error) {
	return c.doKey(ctx, InsDerivePublicKey, (&writer{}).key(derivation).u32(outputIndex).b)
}

// DeriveSecretKey derives an output private key
func (c *Client) DeriveSecretKey(ctx context.Context, derivation crypto.Key, outputIndex uint32) (crypto.Key, error) {
	return c.doKey(ctx, InsDeriveSecretKey, (&writer{}).key(derivation).u32(outputIndex).b)
}

// TxState returns the builder state
func (c *Client) TxState(ctx context.Context) (transaction.State, error) {
	out, err := c.doSized(ctx, InsTxState, nil, 1)
	if err != nil {
		return 0, err
	}
	return transaction.State(out[0]), nil
}

// TxStart opens a transaction
func (c *Client) TxStart(ctx context.Context, p transaction.StartParams) error {
	return c.doEmpty(ctx, InsTxStart, EncodeTxStart(p))
}

// TxStartInputLoad begins the input phase
func (c *Client) TxStartInputLoad(ctx context.Context) error {
	return c.doEmpty(ctx, InsTxStartInputLoad, nil)
}

// TxLoadInput adds one input
func (c *Client) TxLoadInput(ctx context.Context, in transaction.Input) error {
	return c.doEmpty(ctx, InsTxLoadInput, EncodeTxLoadInput(in))
}

// TxStartOutputLoad begins the output phase
func (c *Client) TxStartOutputLoad(ctx context.Context) error {
	return c.doEmpty(ctx, InsTxStartOutputLoad, nil)
}

// TxLoadOutput adds one output
func (c *Client) TxLoadOutput(ctx context.Context, out transaction.Output) error {
	return c.doEmpty(ctx, InsTxLoadOutput, EncodeTxLoadOutput(out))
}

// TxFinalizePrefix appends the extra field
func (c *Client) TxFinalizePrefix(ctx context.Context) error {
	return c.doEmpty(ctx, InsTxFinalizePrefix, nil)
}

// TxSign signs every input and returns the transaction hash and size
func (c *Client) TxSign(ctx context.Context) (crypto.Key, uint16, error) {
	out, err := c.doSized(ctx, InsTxSign, nil, TxSignResponseSize)
	if err != nil {
		return crypto.Key{}, 0, err
	}
	r := &reader{b: out}
	return r.key(), r.u16(), nil
}

// TxDump reads up to MaxDumpSize bytes of the signed transaction
func (c *Client) TxDump(ctx context.Context, offset uint16) ([]byte, error) {
	return c.Do(ctx, InsTxDump, (&writer{}).u16(offset).b)
}

// TxDumpAll pages out the whole signed transaction
func (c *Client) TxDumpAll(ctx context.Context, size uint16) ([]byte, error) {
	out := make([]byte, 0, size)
	for len(out) < int(size) {
		chunk, err := c.TxDump(ctx, uint16(len(out)))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, fmt.Errorf("dump stalled at offset %d of %d", len(out), size)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// TxReset abandons the transaction
func (c *Client) TxReset(ctx context.Context) error {
	return c.doEmpty(ctx, InsTxReset, nil)
}

// ResetKeys regenerates the wallet
func (c *Client) ResetKeys(ctx context.Context) error {
	return c.doEmpty(ctx, InsResetKeys, nil)
}
