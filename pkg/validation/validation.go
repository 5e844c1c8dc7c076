package validation

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxNameLength = 256

// ValidateRoom validates a room name.
func ValidateRoom(room string) error {
	return validateName("room", room)
}

// ValidateIdentity validates a participant identity.
func ValidateIdentity(identity string) error {
	return validateName("identity", identity)
}

// validateName accepts any printable UTF-8 except "/", which separates room
// and identity in session ids.
func validateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > MaxNameLength {
		return fmt.Errorf("%s is too long (max %d characters)", field, MaxNameLength)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	for _, r := range value {
		if r == '/' || unicode.IsControl(r) {
			return fmt.Errorf("%s contains invalid characters", field)
		}
	}
	return nil
}

// ValidateMetric checks a non-negative finite metric value.
func ValidateMetric(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	if value < 0 {
		return fmt.Errorf("%s must be >= 0", name)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
