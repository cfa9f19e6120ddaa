//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// race builds run the storage suites several times slower, cost 12 times out
func passwordHashCost() int {
	return bcrypt.DefaultCost
}
