package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/Financial-Times/go-logger"
	"github.com/Financial-Times/kafka-client-go/v3"
)

const (
	defaultProbeTimeout = 5 * time.Second
	maxHealthBodySize   = 1 << 20
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type healthcheckResponse struct {
	Name   string
	Checks []struct {
		Name             string
		OK               bool
		Severity         uint8
		TechnicalSummary string
	}
}

// healthProbe performs a single bounded GET against a service's health path.
// It never returns an error: every failure is folded into the probeResult.
type healthProbe struct {
	client  httpClient
	timeout time.Duration
	metrics *gateMetrics
}

func newHealthProbe(client httpClient, timeout time.Duration, metrics *gateMetrics) *healthProbe {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &healthProbe{client: client, timeout: timeout, metrics: metrics}
}

func (p *healthProbe) probe(ctx context.Context, d serviceDescriptor) probeResult {
	start := time.Now()
	result := p.doProbe(ctx, d)
	result.service = d.name
	result.checkedAt = start
	result.duration = time.Since(start)

	if result.available() {
		log.Debugf("Service %s is available (%s took %v)", d.name, d.healthURL(), result.duration)
	} else {
		log.WithError(result.err).Warnf("Service %s is unavailable: %s", d.name, result.outcome)
	}
	p.metrics.observeProbe(result)
	return result
}

func (p *healthProbe) doProbe(ctx context.Context, d serviceDescriptor) probeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.healthURL(), nil)
	if err != nil {
		return probeResult{outcome: outcomeTransportError, err: fmt.Errorf("cannot construct health request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return probeResult{outcome: classifyRequestError(ctx, err), err: err}
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return probeResult{
			outcome:    outcomeBadStatus,
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("health endpoint returned non-200 status (%d)", resp.StatusCode),
		}
	}

	if !d.deepCheck {
		return probeResult{outcome: outcomeAvailable, statusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthBodySize))
	if err != nil {
		return probeResult{outcome: classifyRequestError(ctx, err), statusCode: resp.StatusCode, err: fmt.Errorf("cannot read health response: %w", err)}
	}

	health := healthcheckResponse{}
	if err := json.Unmarshal(body, &health); err != nil {
		return probeResult{outcome: outcomeMalformed, statusCode: resp.StatusCode, err: fmt.Errorf("cannot parse health response: %w", err)}
	}

	for _, check := range health.Checks {
		if check.OK {
			continue
		}
		// consumer lag alone does not make a service unavailable
		if check.TechnicalSummary == kafka.LagTechnicalSummary {
			log.Debugf("Service %s is lagging behind when reading from Kafka", d.name)
			continue
		}
		return probeResult{outcome: outcomeFailingChecks, statusCode: resp.StatusCode, err: fmt.Errorf("failing check is: %s", check.Name)}
	}

	return probeResult{outcome: outcomeAvailable, statusCode: resp.StatusCode}
}

func classifyRequestError(ctx context.Context, err error) probeOutcome {
	if errors.Is(err, context.Canceled) {
		return outcomeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return outcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outcomeTimeout
	}
	return outcomeTransportError
}

func closeBody(resp *http.Response) {
	// drain so the keep-alive connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxHealthBodySize))
	if err := resp.Body.Close(); err != nil {
		log.WithError(err).Error("Cannot close response body reader.")
	}
}
