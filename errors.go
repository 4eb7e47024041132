package main

import (
	"fmt"
	"net/http"
)

type unknownServiceError struct {
	name string
}

func (e *unknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q: it is not registered", e.name)
}

type serviceUnavailableError struct {
	name string
}

func (e *serviceUnavailableError) Error() string {
	return fmt.Sprintf("Service %s is currently unavailable. Please try again later.", e.name)
}

func (e *serviceUnavailableError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// integrationFailure never leaves the integration caller as an error; it is
// flattened into an integrationResult.
type integrationFailure struct {
	service    string
	outcome    integrationOutcome
	statusCode int
	cause      error
}

func (e *integrationFailure) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("integration with %s failed (%s): %v", e.service, e.outcome, e.cause)
	}
	return fmt.Sprintf("integration with %s failed (%s): status %d", e.service, e.outcome, e.statusCode)
}

func (e *integrationFailure) Unwrap() error {
	return e.cause
}

func (e *integrationFailure) result() integrationResult {
	return integrationResult{
		Service:    e.service,
		Outcome:    e.outcome,
		StatusCode: e.statusCode,
		Error:      e.Error(),
	}
}
