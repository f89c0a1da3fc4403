package tool

import (
	"fmt"
	"net/url"
)

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// ValidateRange checks that value is within [min, max]. Returns nil on success.
func ValidateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be %d-%d", name, min, max)
	}
	return nil
}

// ValidateEnum checks that value is one of the allowed values.
// An empty value is allowed (treated as "not set").
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (want: %s)", name, value, joinComma(allowed))
}

// ValidateURL checks that value is a valid absolute HTTP(S) URL.
// An empty value is allowed (use RequireField to enforce presence).
func ValidateURL(name, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %s", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s: missing host", name)
	}
	return nil
}
