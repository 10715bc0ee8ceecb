package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	// CodeLength is fixed: 57^6 combinations (~3.4e10) keep collision
	// retries rare over any realistic corpus.
	CodeLength = 6

	// codeAlphabet is base57: base62 minus the look-alikes l, 1, I, O, 0.
	codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

	// maxCodeAttempts bounds the generate-insert retry loop before the
	// request fails as resource exhaustion.
	maxCodeAttempts = 5
)

// ErrCodeSpaceExhausted is returned when repeated collisions prevent
// allocating a unique code.
var ErrCodeSpaceExhausted = errors.New("could not allocate a unique short code")

// generateCode draws a random fixed-length code. Codes come from crypto/rand
// so they are not enumerable; uniqueness is arbitrated by the store's unique
// constraint, not here.
func generateCode() (string, error) {
	result := make([]byte, CodeLength)
	for i := 0; i < CodeLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		result[i] = codeAlphabet[num.Int64()]
	}
	return string(result), nil
}
