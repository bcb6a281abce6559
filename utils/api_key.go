package utils

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// GenerateWebhookKey returns a new channel webhook key using a stable
// wainbox_ prefix followed by the uppercase UUID without dashes. Keys issued
// during channel registration use the same format so rotations stay
// compatible.
func GenerateWebhookKey() string {
	key := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "wainbox_" + key
}

// HashWebhookKey produces the bcrypt hash stored on the channel item. Only
// the hash is persisted; the plain key is shown once at registration.
func HashWebhookKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), 10)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
