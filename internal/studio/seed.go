package studio

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"math/rand/v2"
)

// seedLimit bounds freshly generated seeds so they stay readable in file
// names and history rows.
const seedLimit = 99999999999

// ResolveSeed returns input unchanged when it is non-negative, otherwise a
// cryptographically random seed in [0, seedLimit).
func ResolveSeed(input int64) (int64, error) {
	if input >= 0 {
		return input, nil
	}
	n, err := crand.Int(crand.Reader, big.NewInt(seedLimit))
	if err != nil {
		return 0, fmt.Errorf("generate seed: %w", err)
	}
	return n.Int64(), nil
}

// newRand returns the single random stream of one request.
func newRand(seed int64) *rand.Rand {
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}
