package cryptofacade

import "golang.org/x/crypto/sha3"

// HashSize is the output length of SHA3-512 in bytes.
const HashSize = 64

// SHA3_512 hashes data with SHA3-512.
func SHA3_512(data []byte) [HashSize]byte {
	return sha3.Sum512(data)
}

// SHA3_512Slice is SHA3_512 returning a slice, convenient for callers that
// build DHT keys from several concatenated SHA3-512 digests.
func SHA3_512Slice(data []byte) []byte {
	sum := SHA3_512(data)
	return sum[:]
}
