// Package cryptofacade is the thin contract layer over DNA Messenger's
// post-quantum primitives: Kyber1024 key encapsulation, Dilithium5
// signatures, SHA3-512 hashing, AES-256-GCM AEAD, HKDF-SHA3-512 key
// derivation and a CSPRNG. Nothing here implements a primitive; it only
// names sizes, checks key, seed and nonce lengths, generates AEAD nonces
// from the CSPRNG, and offers Zero for callers to wipe secret buffers.
package cryptofacade
