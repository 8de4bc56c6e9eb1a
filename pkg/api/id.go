package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	projectIDPrefix     = "proj_"
	interactionIDPrefix = "intr_"
)

var (
	projectIDPattern     = regexp.MustCompile(`^proj_[a-zA-Z0-9]{24}$`)
	interactionIDPattern = regexp.MustCompile(`^intr_[a-zA-Z0-9]{24}$`)
)

// NewProjectID generates a new project ID with the "proj_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewProjectID() string {
	return projectIDPrefix + randomAlphanumeric(idLength)
}

// NewInteractionID generates a new interaction ID with the "intr_" prefix.
func NewInteractionID() string {
	return interactionIDPrefix + randomAlphanumeric(idLength)
}

// ValidateProjectID checks whether the given string is a valid project ID.
func ValidateProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// ValidateInteractionID checks whether the given string is a valid interaction ID.
func ValidateInteractionID(id string) bool {
	return interactionIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
