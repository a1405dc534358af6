package words

import (
	"crypto/rand"
	"math/big"
)

// Source produces random integers for word selection. It exists so tests can
// substitute a deterministic sequence.
type Source interface {
	// Intn returns a uniformly distributed int in [0, n).
	Intn(n int) int
}

// cryptoSource implements Source using crypto/rand.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics with "words: Intn called with n <= 0" if n <= 0.
// Panics with "words: crypto/rand failure: <err>" if crypto/rand fails.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("words: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("words: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}
