package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// secretCost is the bcrypt cost for generated secrets, which already carry 256 bits of entropy.
const secretCost = bcrypt.MinCost

// HashSecret hashes a generated bearer secret for in-memory storage.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), secretCost)
}

// CheckSecret reports whether secret matches hash.
func CheckSecret(hash []byte, secret string) bool {
	if len(hash) == 0 || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}
