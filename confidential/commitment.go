package confidential

import (
	"crypto/subtle"
	"math/big"

	"lukechampine.com/blake3"
)

const commitmentDomain = "veilmarket/commitment/v1"

// Commitment binds an order amount to a nonce without revealing the amount.
// The settlement engine stores commitments opaquely; parties holding the nonce
// can later prove the committed value.
func Commitment(amount *big.Int, nonce [16]byte) [32]byte {
	payload := make([]byte, 0, len(commitmentDomain)+len(nonce)+32)
	payload = append(payload, commitmentDomain...)
	payload = append(payload, nonce[:]...)
	if amount != nil && amount.Sign() > 0 {
		payload = append(payload, amount.Bytes()...)
	}
	return blake3.Sum256(payload)
}

// VerifyCommitment reports whether the commitment opens to the supplied amount
// and nonce. Comparison is constant time.
func VerifyCommitment(commitment [32]byte, amount *big.Int, nonce [16]byte) bool {
	expected := Commitment(amount, nonce)
	return subtle.ConstantTimeCompare(commitment[:], expected[:]) == 1
}
