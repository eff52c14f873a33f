// Package identity implements DNA Messenger's identity & keystore
// component: BIP39-seeded keypair derivation, fingerprint derivation,
// encrypted-at-rest key files and the process-wide identity lock.
package identity
