package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Activation codes are six decimal digits in [100000, 999999].
const (
	activationCodeMin = 100000
	activationCodeMax = 999999
)

// GenerateActivationCode returns a random six-digit code.
func GenerateActivationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(activationCodeMax-activationCodeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate activation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+activationCodeMin), nil
}
