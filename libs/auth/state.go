package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// StateClaims is the payload carried through an OAuth redirect round trip.
type StateClaims struct {
	TenantID string `json:"tid"`
	Nonce    string `json:"n"`
	Exp      int64  `json:"exp"`
}

// SignState produces <payload>.<signature> for the OAuth state parameter.
func SignState(tenantID, secret string, ttl time.Duration, now time.Time) (string, error) {
	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(StateClaims{
		TenantID: tenantID,
		Nonce:    base64.RawURLEncoding.EncodeToString(nonce[:]),
		Exp:      now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	payloadEnc := base64.RawURLEncoding.EncodeToString(payloadJSON)
	return payloadEnc + "." + hmacSHA256(payloadEnc, secret), nil
}

func VerifyState(state, secret string, now time.Time) (*StateClaims, error) {
	parts := strings.Split(state, ".")
	if len(parts) != 2 {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal([]byte(parts[1]), []byte(hmacSHA256(parts[0], secret))) {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims StateClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" || now.Unix() > claims.Exp {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func hmacSHA256(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
