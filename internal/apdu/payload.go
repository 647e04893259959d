package apdu

import (
	"encoding/binary"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/transaction"
)

// Payload lengths
const (
	keySize                     = crypto.KeySize
	sigSize                     = crypto.SignatureSize
	ringSize                    = crypto.RingSize
	DerivePayloadSize           = keySize + 4
	KeyImagePayloadSize         = keySize + 4 + keySize
	GenerateRingPayloadSize     = keySize + 4 + keySize + keySize + ringSize*keySize + 4
	CompleteRingPayloadSize     = keySize + 4 + keySize + keySize + sigSize
	CheckRingPayloadSize        = keySize + keySize + ringSize*keySize + ringSize*sigSize
	CheckSignaturePayloadSize   = keySize + keySize + sigSize
	TxStartPayloadSize          = 8 + 1 + 1 + keySize + 1
	TxStartPaymentIDPayloadSize = TxStartPayloadSize + keySize
	TxLoadInputPayloadSize      = keySize + 1 + 8 + ringSize*keySize + ringSize*4 + 1
	TxLoadOutputPayloadSize     = 8 + keySize
	TxDumpPayloadSize           = 2
	TxSignResponseSize          = keySize + 2
)

// reader walks a payload whose length was already checked
type reader struct {
	b   []byte
	off int
}

func (r *reader) key() crypto.Key {
	var k crypto.Key
	copy(k[:], r.b[r.off:])
	r.off += keySize
	return k
}

func (r *reader) keys() [ringSize]crypto.Key {
	var ks [ringSize]crypto.Key
	for i := range ks {
		ks[i] = r.key()
	}
	return ks
}

func (r *reader) signature() crypto.Signature {
	var s crypto.Signature
	copy(s[:], r.b[r.off:])
	r.off += sigSize
	return s
}

func (r *reader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

// writer builds a payload
type writer struct {
	b []byte
}

func (w *writer) key(k crypto.Key) *writer {
	w.b = append(w.b, k[:]...)
	return w
}

func (w *writer) keys(ks [ringSize]crypto.Key) *writer {
	for _, k := range ks {
		w.key(k)
	}
	return w
}

func (w *writer) signature(s crypto.Signature) *writer {
	w.b = append(w.b, s[:]...)
	return w
}

func (w *writer) u8(v uint8) *writer {
	w.b = append(w.b, v)
	return w
}

func (w *writer) u16(v uint16) *writer {
	w.b = binary.BigEndian.AppendUint16(w.b, v)
	return w
}

func (w *writer) u32(v uint32) *writer {
	w.b = binary.BigEndian.AppendUint32(w.b, v)
	return w
}

func (w *writer) u64(v uint64) *writer {
	w.b = binary.BigEndian.AppendUint64(w.b, v)
	return w
}

// EncodeTxStart serializes a TX_START payload
func EncodeTxStart(p transaction.StartParams) []byte {
	w := &writer{}
	w.u64(p.UnlockTime).u8(p.InputCount).u8(p.OutputCount).key(p.TxPublicKey)
	if p.HasPaymentID {
		w.u8(1).key(p.PaymentID)
	} else {
		w.u8(0)
	}
	return w.b
}

func decodeTxStart(data []byte) transaction.StartParams {
	r := &reader{b: data}
	p := transaction.StartParams{
		UnlockTime:  r.u64(),
		InputCount:  r.u8(),
		OutputCount: r.u8(),
		TxPublicKey: r.key(),
	}
	p.HasPaymentID = r.u8() == 1
	if p.HasPaymentID {
		p.PaymentID = r.key()
	}
	return p
}

// EncodeTxLoadInput serializes a TX_LOAD_INPUT payload
func EncodeTxLoadInput(in transaction.Input) []byte {
	w := &writer{}
	w.key(in.TxPublicKey).u8(in.OutputIndex).u64(in.Amount).keys(in.PublicKeys)
	for _, off := range in.Offsets {
		w.u32(off)
	}
	return w.u8(in.RealOutputIndex).b
}

func decodeTxLoadInput(data []byte) transaction.Input {
	r := &reader{b: data}
	in := transaction.Input{
		TxPublicKey: r.key(),
		OutputIndex: r.u8(),
		Amount:      r.u64(),
		PublicKeys:  r.keys(),
	}
	for i := range in.Offsets {
		in.Offsets[i] = r.u32()
	}
	in.RealOutputIndex = r.u8()
	return in
}

// EncodeTxLoadOutput serializes a TX_LOAD_OUTPUT payload
func EncodeTxLoadOutput(out transaction.Output) []byte {
	return (&writer{}).u64(out.Amount).key(out.Key).b
}

func decodeTxLoadOutput(data []byte) transaction.Output {
	r := &reader{b: data}
	return transaction.Output{Amount: r.u64(), Key: r.key()}
}
