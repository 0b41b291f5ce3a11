package client

import "strings"

// MinPasswordLength matches the server's registration rule.
const MinPasswordLength = 6

// ValidateRegistration checks a sign-up form.
func ValidateRegistration(username, password, confirm string) error {
	if strings.TrimSpace(username) == "" {
		return &ValidationError{Field: "username", Reason: "is required"}
	}
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}
	if password != confirm {
		return &ValidationError{Field: "confirm", Reason: "passwords do not match"}
	}
	return nil
}

// ValidateLogin applies the registration rules, so no account can have a
// password short enough to fail here.
func ValidateLogin(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &ValidationError{Field: "username", Reason: "is required"}
	}
	if password == "" {
		return &ValidationError{Field: "password", Reason: "is required"}
	}
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}
	return nil
}

// ValidateTrack rejects an empty track reference.
func ValidateTrack(musicURL string) error {
	if strings.TrimSpace(musicURL) == "" {
		return &ValidationError{Field: "music_url", Reason: "is required"}
	}
	return nil
}
