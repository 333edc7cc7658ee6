package account

import (
	"fmt"
	"net/http"
)

// APIError is returned when Fleet API responds with a non-2xx status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fleet api returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("fleet api returned %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// Temporary returns true if the request might succeed if retried later without user action.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable ||
		e.Status == http.StatusGatewayTimeout ||
		e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusMisdirectedRequest
}

// VehicleUnavailable returns true if Fleet API reported that the vehicle is offline or asleep.
func (e *APIError) VehicleUnavailable() bool {
	return e.Status == http.StatusRequestTimeout || e.Status == http.StatusServiceUnavailable
}

// RegistrationError is returned, without contacting Fleet API, when the application has not
// completed partner registration.
type RegistrationError struct {
	Reason string
}

func (e *RegistrationError) Error() string {
	if e.Reason == "" {
		return "application is not registered with Fleet API"
	}
	return "application is not registered with Fleet API: " + e.Reason
}
