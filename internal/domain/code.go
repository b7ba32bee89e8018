package domain

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	orderCodePrefix   = "ORD"
	orderCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	orderCodeLength   = 6
)

var orderCodePattern = regexp.MustCompile(`^ORD[A-Z0-9]{6}$`)

// NewOrderCode returns a fresh human-facing order code. Uniqueness is
// enforced by the orders.code constraint.
func NewOrderCode() (string, error) {
	b := make([]byte, orderCodeLength)
	max := big.NewInt(int64(len(orderCodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = orderCodeAlphabet[n.Int64()]
	}
	return orderCodePrefix + string(b), nil
}

func ValidOrderCode(code string) bool {
	return orderCodePattern.MatchString(code)
}
