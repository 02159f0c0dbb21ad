// Package fingerprint derives the display hash of a coin from its triple.
// The computation is intentionally expensive; callers that list many coins
// should go through Cache instead of calling Compute directly.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"math/big"
)

// Rounds is the number of accumulation steps performed by Compute.
const Rounds = 1_000_000

// Compute returns the hex encoded fingerprint of the triple (a, b, c).
// It is pure: the same inputs always give the same 32 character result.
func Compute(a, b, c int) string {
	bigA := big.NewInt(int64(a))
	bigB := big.NewInt(int64(b))
	bigC := big.NewInt(int64(c))

	base := new(big.Int).Mod(bigA, big.NewInt(1000))
	base.Add(base, new(big.Int).Quo(bigA, big.NewInt(100)))

	square := new(big.Int).Exp(bigB, big.NewInt(2), nil)
	cube := new(big.Int).Exp(bigC, big.NewInt(3), nil)

	n := new(big.Int)
	for i := 0; i < Rounds; i++ {
		n.Add(n, base)

		if i%2 == 1 {
			n.Add(n, cube)
		} else {
			n.Add(n, square)
		}
	}

	sum := md5.Sum([]byte(n.String()))
	return hex.EncodeToString(sum[:])
}
