package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

const toolTokenPrefix = "vbk"

// ToolToken is a tenant-scoped credential handed to the voice agent. Only ID and the bcrypt
// hash of Secret are persisted; the raw value is shown once when issued.
type ToolToken struct {
	ID     string
	Secret string
}

// String renders the token in the wire form vbk_<id>_<secret>.
func (t ToolToken) String() string {
	return toolTokenPrefix + "_" + t.ID + "_" + t.Secret
}

func NewToolToken() (ToolToken, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ToolToken{}, err
	}
	return ToolToken{
		ID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Secret: base64.RawURLEncoding.EncodeToString(b[:]),
	}, nil
}

// ParseToolToken splits a raw token. The secret may itself contain underscores.
func ParseToolToken(raw string) (ToolToken, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "_", 3)
	if len(parts) != 3 || parts[0] != toolTokenPrefix || parts[1] == "" || parts[2] == "" {
		return ToolToken{}, ErrInvalidToken
	}
	return ToolToken{ID: parts[1], Secret: parts[2]}, nil
}

func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifySecret(hash, secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrInvalidToken
	}
	return nil
}
