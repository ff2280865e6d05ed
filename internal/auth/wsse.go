package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

const wsseTimeLayout = "2006-01-02T15:04:05.000Z"

// wsseHeader builds an X-WSSE UsernameToken. The digest is the base64 of the
// hex encoded SHA-1 over nonce, created and password.
func wsseHeader(username, password string, now time.Time, nonce func() (string, error)) (string, error) {
	if nonce == nil {
		nonce = randomNonce
	}
	n, err := nonce()
	if err != nil {
		return "", fmt.Errorf("wsse nonce: %w", err)
	}
	created := now.UTC().Format(wsseTimeLayout)
	return fmt.Sprintf(
		`UsernameToken Username="%s", PasswordDigest="%s", Nonce="%s", Created="%s"`,
		username, wsseDigest(n, created, password), n, created,
	), nil
}

func wsseDigest(nonce, created, password string) string {
	sum := sha1.Sum([]byte(nonce + created + password))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
