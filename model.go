package main

import (
	"encoding/json"
	"time"
)

const defaultHealthPath = "/health"

type serviceDescriptor struct {
	name       string
	baseURL    string
	healthPath string
	deepCheck  bool
}

func (d serviceDescriptor) healthURL() string {
	return d.baseURL + d.healthPath
}

type healthStatus struct {
	ServiceName   string    `json:"service"`
	Available     bool      `json:"available"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
	Reason        string    `json:"reason,omitempty"`
}

type gateDecision struct {
	allowed bool
	reason  string
}

type probeOutcome int

const (
	outcomeAvailable probeOutcome = iota
	outcomeBadStatus
	outcomeTimeout
	outcomeTransportError
	outcomeMalformed
	outcomeFailingChecks
	outcomeCancelled
)

func (o probeOutcome) String() string {
	switch o {
	case outcomeAvailable:
		return "available"
	case outcomeBadStatus:
		return "bad-status"
	case outcomeTimeout:
		return "timeout"
	case outcomeTransportError:
		return "transport-error"
	case outcomeMalformed:
		return "malformed"
	case outcomeFailingChecks:
		return "failing-checks"
	case outcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type probeResult struct {
	service    string
	outcome    probeOutcome
	statusCode int
	err        error
	duration   time.Duration
	checkedAt  time.Time
}

func (r probeResult) available() bool {
	return r.outcome == outcomeAvailable
}

func (r probeResult) reason() string {
	if r.err != nil {
		return r.outcome.String() + ": " + r.err.Error()
	}
	return r.outcome.String()
}

type integrationOutcome string

const (
	integrationOK              integrationOutcome = "ok"
	integrationSkipped         integrationOutcome = "skipped"
	integrationFailedStatus    integrationOutcome = "failed-status"
	integrationFailedTransport integrationOutcome = "failed-transport"
)

type integrationRequest struct {
	service   string
	method    string
	path      string
	payload   interface{}
	preflight bool
}

// integrationResult is what an event hook reports back for one outbound call.
// Payload is the collaborator's response body, passed through untouched.
type integrationResult struct {
	Service    string             `json:"service"`
	Outcome    integrationOutcome `json:"outcome"`
	StatusCode int                `json:"statusCode,omitempty"`
	Error      string             `json:"error,omitempty"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
}

func (r integrationResult) ok() bool {
	return r.Outcome == integrationOK
}
