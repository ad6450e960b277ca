package checkout

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	referenceLength = 10
	// Excludes 0, O, 1, I and L.
	referenceAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	maxReferenceTries = 8
)

// NewReference returns a random opaque order reference.
func NewReference() (string, error) {
	max := big.NewInt(int64(len(referenceAlphabet)))
	b := make([]byte, referenceLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate reference: %w", err)
		}
		b[i] = referenceAlphabet[n.Int64()]
	}
	return string(b), nil
}
