package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/Financial-Times/go-logger"
)

const maxIntegrationBodySize = 1 << 20

// integrationCaller performs best-effort calls to collaborating services.
// Failures downgrade the cached status of the target service and are returned
// as results, never as errors, so the operation that triggered the call is
// unaffected.
type integrationCaller struct {
	cache   *healthCache
	client  httpClient
	timeout time.Duration
	metrics *gateMetrics
}

func newIntegrationCaller(cache *healthCache, client httpClient, timeout time.Duration, metrics *gateMetrics) *integrationCaller {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &integrationCaller{cache: cache, client: client, timeout: timeout, metrics: metrics}
}

func (c *integrationCaller) call(ctx context.Context, req integrationRequest) integrationResult {
	result := c.doCall(ctx, req)
	c.metrics.observeIntegration(req.service, result.Outcome)
	return result
}

func (c *integrationCaller) doCall(ctx context.Context, req integrationRequest) integrationResult {
	d, err := c.cache.registry.resolve(req.service)
	if err != nil {
		log.WithError(err).Errorf("Cannot call %s %s", req.method, req.path)
		return (&integrationFailure{service: req.service, outcome: integrationSkipped, cause: err}).result()
	}

	if req.preflight {
		log.Debugf("Checking %s service before calling %s %s", d.name, req.method, req.path)
		if _, err := c.cache.refresh(ctx, d.name); err != nil {
			log.WithError(err).Warnf("Cannot refresh status of service %s", d.name)
		}
	}

	if !c.cache.isAvailable(d.name) {
		log.Warnf("%s service is marked as unavailable, skipping %s %s", d.name, req.method, req.path)
		unavailable := &serviceUnavailableError{name: d.name}
		return integrationResult{Service: d.name, Outcome: integrationSkipped, Error: unavailable.Error()}
	}

	body, err := json.Marshal(req.payload)
	if err != nil {
		// the collaborator is not to blame, so the cache is left alone
		log.WithError(err).Errorf("Cannot encode payload for %s %s", req.method, req.path)
		return (&integrationFailure{service: d.name, outcome: integrationFailedTransport, cause: err}).result()
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, d.baseURL+req.path, bytes.NewReader(body))
	if err != nil {
		return c.fail(&integrationFailure{service: d.name, outcome: integrationFailedTransport, cause: err})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil && parent.Err() != nil {
		log.WithError(err).Warnf("%s %s on service %s abandoned by the caller", req.method, req.path, d.name)
		return (&integrationFailure{service: d.name, outcome: integrationFailedTransport, cause: err}).result()
	}
	if err != nil {
		return c.fail(&integrationFailure{service: d.name, outcome: integrationFailedTransport, cause: err})
	}
	defer closeBody(resp)

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxIntegrationBodySize))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(&integrationFailure{
			service:    d.name,
			outcome:    integrationFailedStatus,
			statusCode: resp.StatusCode,
			cause:      fmt.Errorf("%s %s returned status %d: %s", req.method, req.path, resp.StatusCode, strings.TrimSpace(string(respBody))),
		})
	}
	if readErr != nil {
		return c.fail(&integrationFailure{service: d.name, outcome: integrationFailedTransport, statusCode: resp.StatusCode, cause: readErr})
	}

	log.Infof("%s %s on service %s succeeded with status %d", req.method, req.path, d.name, resp.StatusCode)
	return integrationResult{
		Service:    d.name,
		Outcome:    integrationOK,
		StatusCode: resp.StatusCode,
		Payload:    rawPayload(respBody),
	}
}

func (c *integrationCaller) fail(failure *integrationFailure) integrationResult {
	log.WithError(failure).Warnf("Marking service %s as unavailable", failure.service)
	if err := c.cache.set(failure.service, false, string(failure.outcome)); err != nil {
		log.WithError(err).Errorf("Cannot update status of service %s", failure.service)
	}
	return failure.result()
}

// rawPayload passes JSON bodies through untouched and wraps anything else as a
// JSON string so it can still be embedded in a response.
func rawPayload(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, err := json.Marshal(string(trimmed))
	if err != nil {
		return nil
	}
	return quoted
}
