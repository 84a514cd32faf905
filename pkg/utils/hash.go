package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost used for admin passwords supplied in clear text.
const PasswordCost = 10

// HashOrRead returns password untouched when it already is a bcrypt hash, so operators can configure
// either form, and hashes it otherwise.
func HashOrRead(password string) ([]byte, error) {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(password, prefix) {
			return []byte(password), nil
		}
	}
	return bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
}
