package authflow

import (
	"strings"

	"github.com/ruralink/kaaryasetu/internal/model"
)

const (
	phoneDigits       = 10
	otpDigits         = 6
	minPasswordLength = 6
)

// ValidatePhone は10桁の電話番号かどうかを検証する。
func ValidatePhone(phone string) *model.APIError {
	if !isDigits(phone, phoneDigits) {
		return model.NewValidationError("phone", "Invalid Phone Number", "Please enter a valid 10-digit phone number")
	}
	return nil
}

// ValidateOTP は6桁の確認コードかどうかを検証する。
func ValidateOTP(code string) *model.APIError {
	if !isDigits(code, otpDigits) {
		return model.NewValidationError("otp", "Invalid OTP", "Please enter the 6-digit verification code")
	}
	return nil
}

// ValidateCredentials はパスワード方式の入力値を検証する。
// 新規登録ではパスワード長と確認用パスワードの一致も検証する。
func ValidateCredentials(variant Variant, mode Mode, c Credentials) *model.APIError {
	label := "username"
	if variant == EmailPassword {
		label = "email"
	}

	if strings.TrimSpace(c.Identifier) == "" || c.Password == "" {
		return model.NewValidationError(label, "Missing Information", "Please enter "+label+" and password")
	}

	if variant == EmailPassword && !looksLikeEmail(c.Identifier) {
		return model.NewValidationError("email", "Invalid Email", "Please enter a valid email address")
	}

	if mode != ModeRegister {
		return nil
	}

	if c.Password != c.ConfirmPassword {
		return model.NewValidationError("confirm_password", "Password Mismatch", "Passwords do not match")
	}
	if len([]rune(c.Password)) < minPasswordLength {
		return model.NewValidationError("password", "Weak Password", "Password must be at least 6 characters")
	}
	return nil
}

// ValidateProfileFields はプロフィール入力値の必須項目を検証する。
func ValidateProfileFields(fields model.ProfileFields) *model.APIError {
	if strings.TrimSpace(fields.DisplayName) == "" || strings.TrimSpace(fields.Location) == "" {
		return model.NewValidationError("profile", "Incomplete Profile", "Please fill in all required fields")
	}
	if !fields.Role.Valid() {
		return model.NewValidationError("role", "Select Role", "Please choose whether you are a worker or an employer")
	}
	return nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func looksLikeEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}
