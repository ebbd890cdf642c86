package auth

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator holds the input checks applied before anything reaches the backend.
type Validator struct{}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCredentials validates login credentials
func (v *Validator) ValidateCredentials(identifier, secret string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("email is required")
	}

	// Basic email format validation
	if !strings.Contains(identifier, "@") || !strings.Contains(identifier, ".") {
		return fmt.Errorf("invalid email format")
	}

	if secret == "" {
		return fmt.Errorf("password is required")
	}

	return nil
}

// ValidateReturnPath checks a post-login redirect target. Only local
// absolute paths are accepted so the login form cannot be used as an open redirect.
func (v *Validator) ValidateReturnPath(path string) error {
	if path == "" {
		return fmt.Errorf("return path is empty")
	}
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.Contains(path, "\\") {
		return fmt.Errorf("return path must be a local absolute path")
	}
	u, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid return path: %w", err)
	}
	if u.Scheme != "" || u.Host != "" {
		return fmt.Errorf("return path must not name a host")
	}
	return nil
}
