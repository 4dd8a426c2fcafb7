package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// MinSecretLength is the shortest HMAC key accepted for admin requests.
const MinSecretLength = 16

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpiredSignature = errors.New("signature timestamp outside allowed window")
	ErrMissingSecret    = errors.New("signer has no secret key")
)

type Signer struct {
	secretKey []byte
	maxSkew   time.Duration
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		maxSkew:   5 * time.Minute,
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	signature := mac.Sum(nil)
	return hex.EncodeToString(signature)
}

// Verify fails closed when the signer was built without a key, since an empty
// HMAC key is known to every caller.
func (s *Signer) Verify(data []byte, signature string) (bool, error) {
	if len(s.secretKey) == 0 {
		s.logger.Error("Signature verification refused: no secret key configured")
		return false, ErrMissingSecret
	}

	expectedSignature := s.Sign(data)

	if !hmac.Equal([]byte(expectedSignature), []byte(strings.ToLower(signature))) {
		s.logger.Warn("Signature verification failed",
			slog.Int("received_length", len(signature)))
		return false, ErrInvalidSignature
	}

	return true, nil
}

// SignAction signs an admin request. The payload binds the action name, the
// caller, every field in order and the unix timestamp.
func (s *Signer) SignAction(action, caller string, timestamp int64, fields ...string) string {
	return s.Sign(actionPayload(action, caller, timestamp, fields))
}

// VerifyAction checks a SignAction signature and rejects timestamps more than
// five minutes away from now.
func (s *Signer) VerifyAction(action, caller string, timestamp int64, signature string, fields ...string) (bool, error) {
	age := time.Since(time.Unix(timestamp, 0))
	if age > s.maxSkew || age < -s.maxSkew {
		return false, fmt.Errorf("%w: %s", ErrExpiredSignature, age.Truncate(time.Second))
	}
	return s.Verify(actionPayload(action, caller, timestamp, fields), signature)
}

func actionPayload(action, caller string, timestamp int64, fields []string) []byte {
	parts := make([]string, 0, len(fields)+3)
	parts = append(parts, action, caller)
	parts = append(parts, fields...)
	parts = append(parts, strconv.FormatInt(timestamp, 10))
	return []byte(strings.Join(parts, ":"))
}
