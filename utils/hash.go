package utils

import "golang.org/x/crypto/sha3"

// Sha3Hash produces the content address of a transaction from its cipher
// text.
func Sha3Hash(payload []byte) []byte {
	sha3Hash := sha3.New512()
	sha3Hash.Write(payload)
	return sha3Hash.Sum(nil)
}
