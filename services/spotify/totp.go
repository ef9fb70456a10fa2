package spotify

import (
	"encoding/base32"
	"fmt"
	"math"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      0,
	Digits:    totpDigits,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateCode returns the 6-digit RFC 6238 code for serverTimeSeconds.
// The raw secret bytes are the HMAC key; they are base32-encoded only because the otp library expects that form.
func GenerateCode(serverTimeSeconds float64, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: empty secret", ErrInvalidSecretFormat)
	}
	if math.IsNaN(serverTimeSeconds) || math.IsInf(serverTimeSeconds, 0) || serverTimeSeconds < 0 {
		return "", fmt.Errorf("invalid server time %v", serverTimeSeconds)
	}

	sec, frac := math.Modf(serverTimeSeconds)
	t := time.Unix(int64(sec), int64(frac*float64(time.Second)))

	encoded := base32.StdEncoding.EncodeToString(secret)
	code, err := totp.GenerateCodeCustom(encoded, t, totpOpts)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return code, nil
}
