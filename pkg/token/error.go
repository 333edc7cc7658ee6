package token

import "fmt"

// ConfigError indicates a required credential is missing from the configuration.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required credential: %s", e.Field)
}

// AuthError indicates an access token could not be obtained. The Manager's previous token (if
// any) is unaffected.
type AuthError struct {
	Reason string
	// Status is the HTTP status returned by the authorization server, or zero if the request
	// never produced a response.
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
