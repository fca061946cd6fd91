package auth

import "golang.org/x/crypto/bcrypt"

const (
	MinPasswordLen = 8
	// MaxPasswordLen is the bcrypt input limit in bytes.
	MaxPasswordLen = 72
)

// hashCost is lowered in tests.
var hashCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash of pwd.
func HashPassword(pwd string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether pwd matches hash.
func CheckPassword(hash, pwd string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pwd)) == nil
}
