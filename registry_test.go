package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceRegistry(t *testing.T) {
	registry, err := newServiceRegistry(
		serviceDescriptor{name: "forum", baseURL: "http://forum:8004/"},
		serviceDescriptor{name: "calendar", baseURL: "http://calendar:5000", healthPath: "api"},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"calendar", "forum"}, registry.names())

	calendar, err := registry.resolve("calendar")
	require.NoError(t, err)
	assert.Equal(t, "/api", calendar.healthPath)
	assert.Equal(t, "http://calendar:5000/api", calendar.healthURL())

	forum, err := registry.resolve("forum")
	require.NoError(t, err)
	assert.Equal(t, defaultHealthPath, forum.healthPath)
	assert.Equal(t, "http://forum:8004/health", forum.healthURL())
}

func TestNewServiceRegistryRejectsInvalidDescriptors(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []serviceDescriptor
	}{
		{
			name:        "empty name",
			descriptors: []serviceDescriptor{{baseURL: "http://calendar:5000"}},
		},
		{
			name: "duplicate name",
			descriptors: []serviceDescriptor{
				{name: "calendar", baseURL: "http://calendar:5000"},
				{name: "calendar", baseURL: "http://calendar:5001"},
			},
		},
		{
			name:        "relative base URL",
			descriptors: []serviceDescriptor{{name: "calendar", baseURL: "calendar:5000/x"}},
		},
		{
			name:        "unparsable base URL",
			descriptors: []serviceDescriptor{{name: "calendar", baseURL: "http://[::1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newServiceRegistry(tt.descriptors...)
			assert.Error(t, err)
		})
	}
}

func TestResolveUnknownService(t *testing.T) {
	registry := newTestRegistry(t, "calendar")

	_, err := registry.resolve("forum")
	var unknown *unknownServiceError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "forum", unknown.name)
	assert.False(t, registry.isRegistered("forum"))
}
