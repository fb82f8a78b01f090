package common

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// MakeOTPCode returns a 6-digit numeric one-time passcode in the inclusive
// range [100000, 999999], drawn from crypto/rand. The code is returned as a
// fixed-width string so leading digits survive any round trip.
func MakeOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
