package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ruralink/kaaryasetu/internal/model"
)

// countryCode は電話番号に付与する国番号。
const countryCode = "+91"

var emailFolder = cases.Fold()

// NormalizePhone は10桁の電話番号を+91付きの形式に正規化する。
// 空白・ハイフンは除去し、既に+91または91が付いている場合はそのまま受け付ける。
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	switch {
	case strings.HasPrefix(digits, countryCode):
		digits = strings.TrimPrefix(digits, countryCode)
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		digits = digits[2:]
	}

	if len(digits) != 10 || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return "", model.NewValidationError("phone", "Invalid Phone Number", "Please enter a valid 10-digit phone number")
	}
	return countryCode + digits, nil
}

// NormalizeEmail はメールアドレスをNFC正規化し、大文字小文字を畳み込む。
func NormalizeEmail(raw string) (string, error) {
	email := emailFolder.String(norm.NFC.String(strings.TrimSpace(raw)))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsFunc(email, unicode.IsSpace) {
		return "", model.NewValidationError("email", "Invalid Email", "Please enter a valid email address")
	}
	return email, nil
}

// NormalizeUsername はユーザー名をNFC正規化し、前後の空白を除去する。
func NormalizeUsername(raw string) (string, error) {
	username := norm.NFC.String(strings.TrimSpace(raw))
	if username == "" {
		return "", model.NewValidationError("username", "Missing Information", "Please enter username and password")
	}
	return username, nil
}

// classifyIdentifier はパスワード方式の識別子をメールアドレスかユーザー名かに分類し、正規化する。
func classifyIdentifier(raw string) (model.IdentifierKind, string, error) {
	if strings.Contains(raw, "@") {
		email, err := NormalizeEmail(raw)
		return model.IdentifierEmail, email, err
	}
	username, err := NormalizeUsername(raw)
	return model.IdentifierUsername, username, err
}
