package crypto

import "runtime"

// Wipe zeroes b. The KeepAlive keeps the store from being treated as dead.
func Wipe(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

// Wipe zeroes the key in place.
func (k *Key) Wipe() {
	Wipe(k[:])
}

// Wipe zeroes the signature in place.
func (s *Signature) Wipe() {
	Wipe(s[:])
}
