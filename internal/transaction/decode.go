package transaction

import (
	"fmt"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/varint"
)

// KeyInput is a decoded input spending one of a ring of outputs
type KeyInput struct {
	Amount   uint64
	Offsets  []uint32
	KeyImage crypto.Key
}

// KeyOutput is a decoded output
type KeyOutput struct {
	Amount uint64
	Key    crypto.Key
}

// Transaction is a parsed serialized transaction
type Transaction struct {
	Version     uint64
	UnlockTime  uint64
	Inputs      []KeyInput
	Outputs     []KeyOutput
	Extra       []byte
	Signatures  []crypto.RingSignature
	PrefixSize  int
	TxPublicKey crypto.Key
	PaymentID   *crypto.Key

	raw []byte
}

// Hash returns the transaction hash
func (tx *Transaction) Hash() crypto.Key {
	return crypto.Keccak(tx.raw)
}

// PrefixHash returns the hash the ring signatures commit to
func (tx *Transaction) PrefixHash() crypto.Key {
	return crypto.Keccak(tx.raw[:tx.PrefixSize])
}

// Fee returns inputs minus outputs
func (tx *Transaction) Fee() uint64 {
	var in, out uint64
	for _, i := range tx.Inputs {
		in += i.Amount
	}
	for _, o := range tx.Outputs {
		out += o.Amount
	}
	if out > in {
		return 0
	}
	return in - out
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) readVarint(what string) (uint64, error) {
	v, n, err := varint.Decode(r.data[r.pos:], varint.MaxLength)
	if err != nil {
		return 0, fmt.Errorf("%s at offset %d: %w", what, r.pos, err)
	}
	r.pos += n
	return v, nil
}

func (r *reader) readByte(what string) (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%s at offset %d: unexpected end of data", what, r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) next(n int, what string) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%s at offset %d: need %d bytes, have %d", what, r.pos, n, len(r.data)-r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readKey(what string) (crypto.Key, error) {
	var k crypto.Key
	b, err := r.next(crypto.KeySize, what)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

// Decode parses a complete signed transaction as produced by Builder
func Decode(raw []byte) (*Transaction, error) {
	r := &reader{data: raw}
	tx := &Transaction{raw: append([]byte(nil), raw...)}

	var err error
	if tx.Version, err = r.readVarint("version"); err != nil {
		return nil, err
	}
	if tx.Version != Version {
		return nil, fmt.Errorf("unsupported transaction version %d", tx.Version)
	}
	if tx.UnlockTime, err = r.readVarint("unlock time"); err != nil {
		return nil, err
	}

	inputCount, err := r.readVarint("input count")
	if err != nil {
		return nil, err
	}
	if inputCount > MaxInputs {
		return nil, fmt.Errorf("%d inputs exceed %d", inputCount, MaxInputs)
	}
	tx.Inputs = make([]KeyInput, inputCount)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		tag, err := r.readByte("input tag")
		if err != nil {
			return nil, err
		}
		if tag != InputTag {
			return nil, fmt.Errorf("input %d has tag 0x%02x, expected key input", i, tag)
		}
		if in.Amount, err = r.readVarint("input amount"); err != nil {
			return nil, err
		}
		ringSize, err := r.readVarint("ring size")
		if err != nil {
			return nil, err
		}
		if ringSize != crypto.RingSize {
			return nil, fmt.Errorf("input %d has ring size %d, expected %d", i, ringSize, crypto.RingSize)
		}
		in.Offsets = make([]uint32, ringSize)
		for j := range in.Offsets {
			off, err := r.readVarint("output offset")
			if err != nil {
				return nil, err
			}
			if off > 0xffffffff {
				return nil, fmt.Errorf("input %d offset %d overflows", i, off)
			}
			in.Offsets[j] = uint32(off)
		}
		if in.KeyImage, err = r.readKey("key image"); err != nil {
			return nil, err
		}
	}

	outputCount, err := r.readVarint("output count")
	if err != nil {
		return nil, err
	}
	if outputCount > MaxOutputs {
		return nil, fmt.Errorf("%d outputs exceed %d", outputCount, MaxOutputs)
	}
	tx.Outputs = make([]KeyOutput, outputCount)
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.Amount, err = r.readVarint("output amount"); err != nil {
			return nil, err
		}
		tag, err := r.readByte("output tag")
		if err != nil {
			return nil, err
		}
		if tag != OutputTag {
			return nil, fmt.Errorf("output %d has tag 0x%02x, expected key output", i, tag)
		}
		if out.Key, err = r.readKey("output key"); err != nil {
			return nil, err
		}
	}

	extraSize, err := r.readVarint("extra size")
	if err != nil {
		return nil, err
	}
	if extraSize > MaxExtraSize {
		return nil, fmt.Errorf("extra of %d bytes exceeds %d", extraSize, MaxExtraSize)
	}
	extra, err := r.next(int(extraSize), "extra")
	if err != nil {
		return nil, err
	}
	tx.Extra = append([]byte(nil), extra...)
	if err := tx.parseExtra(); err != nil {
		return nil, err
	}
	tx.PrefixSize = r.pos

	tx.Signatures = make([]crypto.RingSignature, len(tx.Inputs))
	for i := range tx.Signatures {
		for j := range tx.Signatures[i] {
			sig, err := r.next(crypto.SignatureSize, "signature")
			if err != nil {
				return nil, err
			}
			copy(tx.Signatures[i][j][:], sig)
		}
	}
	if r.pos != len(raw) {
		return nil, fmt.Errorf("%d trailing bytes after signatures", len(raw)-r.pos)
	}
	return tx, nil
}

// parseExtra pulls the transaction public key and payment id out of the
// extra field
func (tx *Transaction) parseExtra() error {
	r := &reader{data: tx.Extra}
	for r.pos < len(r.data) {
		tag, _ := r.readByte("extra tag")
		switch tag {
		case ExtraPubKeyTag:
			k, err := r.readKey("transaction public key")
			if err != nil {
				return err
			}
			tx.TxPublicKey = k
		case ExtraNonceTag:
			size, err := r.readVarint("nonce size")
			if err != nil {
				return err
			}
			nonce, err := r.next(int(size), "nonce")
			if err != nil {
				return err
			}
			if len(nonce) == 1+crypto.KeySize && nonce[0] == ExtraNoncePaymentIDTag {
				var pid crypto.Key
				copy(pid[:], nonce[1:])
				tx.PaymentID = &pid
			}
		default:
			return fmt.Errorf("unknown extra tag 0x%02x at offset %d", tag, r.pos-1)
		}
	}
	return nil
}
