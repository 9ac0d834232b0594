// Package validate sanitizes and validates untrusted request input.
package validate

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Input length limits.
const (
	MaxStringLength      = 1000
	MaxEmailLength       = 254
	MaxURLLength         = 2048
	MaxPhoneLength       = 20
	MaxCompanyNameLength = 200
	MaxSearchQueryLength = 500
	MaxCredentialName    = 100

	minCompanyNameLength = 2
	minSearchQueryLength = 2
)

// Error reports input that failed sanitization or format checks. The message
// is safe to surface to callers.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	urlPattern   = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)
	phonePattern = regexp.MustCompile(`^[+]?[1-9]?[0-9]{7,15}$`)
	companyName  = regexp.MustCompile(`^[a-zA-Z0-9\s.,&\-'"()]+$`)

	phoneSeparators = regexp.MustCompile(`[\s\-().]`)

	// Conservative deny-lists; anything matching is rejected outright rather
	// than stripped.
	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)('|(--)|(;)|(\|\|)|(\*))`),
		regexp.MustCompile(`(?i)\b(union|select|insert|delete|update|drop|create|alter|exec|execute)\b`),
		regexp.MustCompile(`(?i)(script|javascript|vbscript|onload|onerror|onclick)`),
	}
	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`),
	}
)

// SanitizeString escapes HTML, enforces the length cap, and rejects values
// matching known SQL injection or XSS patterns.
func SanitizeString(value string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = MaxStringLength
	}
	if len(value) > maxLength {
		return "", errorf("input too long (max %d characters)", maxLength)
	}
	value = html.EscapeString(value)
	for _, p := range sqlPatterns {
		if p.MatchString(value) {
			return "", errorf("potentially dangerous input detected")
		}
	}
	for _, p := range xssPatterns {
		if p.MatchString(value) {
			return "", errorf("potentially dangerous input detected")
		}
	}
	return strings.TrimSpace(value), nil
}

// Email validates and normalizes an email address.
func Email(email string) (string, error) {
	email, err := SanitizeString(email, MaxEmailLength)
	if err != nil {
		return "", err
	}
	if !emailPattern.MatchString(email) {
		return "", errorf("invalid email format")
	}
	return strings.ToLower(email), nil
}

// URL validates an http(s) URL.
func URL(rawURL string) (string, error) {
	rawURL, err := SanitizeString(rawURL, MaxURLLength)
	if err != nil {
		return "", err
	}
	if !urlPattern.MatchString(rawURL) {
		return "", errorf("invalid URL format")
	}
	return rawURL, nil
}

// Phone validates a phone number after stripping common separators.
func Phone(phone string) (string, error) {
	phone = phoneSeparators.ReplaceAllString(phone, "")
	phone, err := SanitizeString(phone, MaxPhoneLength)
	if err != nil {
		return "", err
	}
	if !phonePattern.MatchString(phone) {
		return "", errorf("invalid phone number format")
	}
	return phone, nil
}

// CompanyName validates a company name.
func CompanyName(name string) (string, error) {
	name, err := SanitizeString(name, MaxCompanyNameLength)
	if err != nil {
		return "", err
	}
	if len(name) < minCompanyNameLength {
		return "", errorf("company name too short")
	}
	if !companyName.MatchString(name) {
		return "", errorf("company name contains invalid characters")
	}
	return name, nil
}

// SearchQuery validates a free-text search query.
func SearchQuery(query string) (string, error) {
	query, err := SanitizeString(query, MaxSearchQueryLength)
	if err != nil {
		return "", err
	}
	if len(query) < minSearchQueryLength {
		return "", errorf("search query too short")
	}
	return query, nil
}
