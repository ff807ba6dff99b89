package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var pickupCodeSpace = big.NewInt(1_000_000)

// GeneratePickupCode returns a random 6-digit, zero-padded code the customer
// shows at the counter to collect an order. Codes are display tokens and are
// not guaranteed unique.
func GeneratePickupCode() (string, error) {
	n, err := rand.Int(rand.Reader, pickupCodeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// PickupCodeGenerator adapts GeneratePickupCode to the sale service's
// code generator dependency.
type PickupCodeGenerator struct{}

// NewCode implements service.CodeGenerator.
func (PickupCodeGenerator) NewCode() (string, error) {
	return GeneratePickupCode()
}
