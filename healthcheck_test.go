package main

import (
	"testing"
	"time"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCachedStatus(t *testing.T) {
	cache := newHealthCache(newTestRegistry(t, "calendar", "forum"), newFakeProber(nil), nil)
	checkedAt := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return checkedAt }

	output, err := checkCachedStatus(cache, "calendar")
	assert.NoError(t, err)
	assert.Equal(t, "calendar has not been checked yet", output)

	require.NoError(t, cache.set("calendar", true, "available"))
	output, err = checkCachedStatus(cache, "calendar")
	assert.NoError(t, err)
	assert.Equal(t, "calendar available at 10:00:00 UTC", output)

	require.NoError(t, cache.set("forum", false, "timeout"))
	_, err = checkCachedStatus(cache, "forum")
	assert.EqualError(t, err, "forum unavailable since 10:00:00 UTC: timeout")

	_, err = checkCachedStatus(cache, "payments")
	assert.Error(t, err)
}

func TestGateHealthCheck(t *testing.T) {
	cache := newHealthCache(newTestRegistry(t, "calendar", "forum"), newFakeProber(nil), nil)
	require.NoError(t, cache.set("forum", false, "bad-status"))

	hc := newGateHealthCheck("service-availability-gate", "Service Availability Gate", cache)
	assert.Equal(t, "service-availability-gate", hc.SystemCode)
	require.Len(t, hc.Checks, 2)
	assert.Equal(t, "calendar availability", hc.Checks[0].Name)
	assert.Equal(t, "forum availability", hc.Checks[1].Name)
	assert.Equal(t, defaultSeverity, hc.Checks[1].Severity)

	result := fthealth.RunCheck(hc)
	assert.False(t, result.Ok)
	for _, check := range result.Checks {
		assert.Equal(t, check.Name == "calendar availability", check.Ok, check.Name)
	}
}
