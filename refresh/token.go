package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

const (
	idSize = 16

	// MinSecretBytes and MaxSecretBytes bound Config.TokenBytes.
	MinSecretBytes = 16
	MaxSecretBytes = 128
)

func newSecret(n int) ([]byte, error) {
	secret := make([]byte, n)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

func encodeToken(id uuid.UUID, secret []byte) string {
	raw := make([]byte, 0, idSize+len(secret))
	raw = append(raw, id[:]...)
	raw = append(raw, secret...)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeToken(token string) (uuid.UUID, []byte, error) {
	var id uuid.UUID
	if len(token) == 0 || len(token) > base64.RawURLEncoding.EncodedLen(idSize+MaxSecretBytes) {
		return id, nil, errors.New("invalid refresh token length")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, nil, err
	}
	if len(raw) < idSize+MinSecretBytes {
		return id, nil, errors.New("invalid refresh token size")
	}
	copy(id[:], raw[:idSize])
	return id, raw[idSize:], nil
}

func digestSecret(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}
