package main

import (
	"fmt"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
)

const (
	defaultSeverity = uint8(2)
	timeLayout      = "15:04:05 MST"
)

// newGateHealthCheck reports the cached state of every dependency. It never
// probes, so /__health stays as cheap as the gate itself.
func newGateHealthCheck(systemCode, appName string, cache *healthCache) fthealth.HealthCheck {
	names := cache.registry.names()
	checks := make([]fthealth.Check, 0, len(names))
	for _, name := range names {
		checks = append(checks, newDependencyCheck(systemCode, name, cache))
	}

	return fthealth.HealthCheck{
		SystemCode:  systemCode,
		Name:        appName,
		Description: "Last known availability of the services this application depends on.",
		Checks:      checks,
	}
}

func newDependencyCheck(systemCode, serviceName string, cache *healthCache) fthealth.Check {
	return fthealth.Check{
		BusinessImpact:   fmt.Sprintf("Requests and integrations depending on %s are rejected or skipped.", serviceName),
		Name:             serviceName + " availability",
		PanicGuide:       "https://runbooks.in.ft.com/" + systemCode,
		Severity:         defaultSeverity,
		TechnicalSummary: fmt.Sprintf("The last check against %s failed. See /services/%s for the reason.", serviceName, serviceName),
		Checker: func() (string, error) {
			return checkCachedStatus(cache, serviceName)
		},
	}
}

func checkCachedStatus(cache *healthCache, serviceName string) (string, error) {
	status, found, err := cache.get(serviceName)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("%s has not been checked yet", serviceName), nil
	}
	if !status.Available {
		return "", fmt.Errorf("%s unavailable since %s: %s", serviceName, status.LastCheckedAt.Format(timeLayout), status.Reason)
	}
	return fmt.Sprintf("%s available at %s", serviceName, status.LastCheckedAt.Format(timeLayout)), nil
}
