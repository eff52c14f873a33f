package cryptofacade

import "crypto/rand"

// CSPRNGFill fills buf with cryptographically secure random bytes.
func CSPRNGFill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// Zero overwrites b with zeroes. Callers must invoke this on every secret
// key or shared-secret buffer once it is no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
