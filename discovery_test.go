package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	core "k8s.io/api/core/v1"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func k8sService(name string, labels, annotations map[string]string, ports ...core.ServicePort) *core.Service {
	return &core.Service{
		ObjectMeta: v1.ObjectMeta{
			Name:        name,
			Namespace:   "default",
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: core.ServiceSpec{Ports: ports},
	}
}

func TestDiscoverServices(t *testing.T) {
	healthcheckLabels := map[string]string{"hasHealthcheck": "true"}
	k8sClient := fake.NewSimpleClientset(
		k8sService("calendar", healthcheckLabels,
			map[string]string{healthPathAnnotation: "/api"},
			core.ServicePort{Name: "app", Port: 5000}),
		k8sService("forum", healthcheckLabels,
			map[string]string{deepCheckAnnotation: "true"}),
		k8sService("redis", map[string]string{"hasHealthcheck": "false"}, nil,
			core.ServicePort{Name: "app", Port: 6379}),
	)

	descriptors, err := discoverServices(context.Background(), k8sClient, "default")
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	byName := make(map[string]serviceDescriptor)
	for _, d := range descriptors {
		byName[d.name] = d
	}

	assert.Equal(t, serviceDescriptor{name: "calendar", baseURL: "http://calendar.default:5000", healthPath: "/api"}, byName["calendar"])
	assert.Equal(t, serviceDescriptor{name: "forum", baseURL: "http://forum.default:8080", deepCheck: true}, byName["forum"])
}

func TestPopulateDescriptorWithInvalidDeepCheckAnnotation(t *testing.T) {
	d := populateDescriptor(k8sService("forum", nil, map[string]string{deepCheckAnnotation: "maybe"}), "upp")

	assert.False(t, d.deepCheck)
	assert.Equal(t, "http://forum.upp:8080", d.baseURL)
}

func TestMergeDescriptorsPrefersConfigured(t *testing.T) {
	configured := []serviceDescriptor{{name: "calendar", baseURL: "http://localhost:5000", healthPath: "/api"}}
	discovered := []serviceDescriptor{
		{name: "calendar", baseURL: "http://calendar.default:8080"},
		{name: "forum", baseURL: "http://forum.default:8080"},
	}

	merged := mergeDescriptors(configured, discovered)

	assert.Equal(t, []serviceDescriptor{
		{name: "calendar", baseURL: "http://localhost:5000", healthPath: "/api"},
		{name: "forum", baseURL: "http://forum.default:8080"},
	}, merged)
}
