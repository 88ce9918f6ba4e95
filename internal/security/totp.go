package security

import (
	"errors"
	"strings"

	"github.com/pquerna/otp/totp"
)

// totpIssuer is the issuer label shown in authenticator apps.
const totpIssuer = "AuthHub"

// GenerateTOTPSecret creates a new TOTP secret for the given account label.
// It returns the base32 secret and the otpauth:// provisioning URL.
func GenerateTOTPSecret(accountName string) (secret, url string, err error) {
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		return "", "", errors.New("security: account name is required")
	}
	key, errGenerate := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: accountName,
	})
	if errGenerate != nil {
		return "", "", errGenerate
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks a 6-digit passcode against the stored secret.
func ValidateTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}
