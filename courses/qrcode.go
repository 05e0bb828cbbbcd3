package courses

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// DeriveQRCode returns the payload printed on checkpoint number of the named
// course. Equal inputs always give the same code.
func DeriveQRCode(courseName string, number int) string {
	sum := blake2b.Sum256([]byte(courseName + "&" + strconv.Itoa(number)))
	return hex.EncodeToString(sum[:])
}
