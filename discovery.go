package main

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/Financial-Times/go-logger"
	core "k8s.io/api/core/v1"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	discoveryLabelSelector = "hasHealthcheck=true"
	healthPathAnnotation   = "availability-gate/health-path"
	deepCheckAnnotation    = "availability-gate/deep-check"
	defaultAppPort         = int32(8080)
	appPortName            = "app"
)

// discoverServices lists the labelled k8s services once. The registry built
// from the result is not updated afterwards.
func discoverServices(ctx context.Context, k8sClient kubernetes.Interface, namespace string) ([]serviceDescriptor, error) {
	k8sServices, err := k8sClient.CoreV1().Services(namespace).List(ctx, v1.ListOptions{LabelSelector: discoveryLabelSelector})
	if err != nil {
		return nil, fmt.Errorf("failed to list services in namespace %s: %w", namespace, err)
	}

	descriptors := make([]serviceDescriptor, 0, len(k8sServices.Items))
	for i := range k8sServices.Items {
		d := populateDescriptor(&k8sServices.Items[i], namespace)
		log.Infof("Discovered service with name %s at %s", d.name, d.baseURL)
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func populateDescriptor(k8sService *core.Service, namespace string) serviceDescriptor {
	serviceName := k8sService.Name
	deepCheck := false
	if value, ok := k8sService.Annotations[deepCheckAnnotation]; ok {
		var err error
		deepCheck, err = strconv.ParseBool(value)
		if err != nil {
			log.WithError(err).Warnf("Cannot parse %s annotation value for service with name %s", deepCheckAnnotation, serviceName)
		}
	}

	return serviceDescriptor{
		name:       serviceName,
		baseURL:    fmt.Sprintf("http://%s.%s:%d", serviceName, namespace, getAppPortForService(k8sService)),
		healthPath: k8sService.Annotations[healthPathAnnotation],
		deepCheck:  deepCheck,
	}
}

func getAppPortForService(k8sService *core.Service) int32 {
	for _, port := range k8sService.Spec.Ports {
		if port.Name == appPortName {
			return port.Port
		}
	}
	return defaultAppPort
}

// mergeDescriptors lets statically configured services win over discovered
// ones with the same name.
func mergeDescriptors(configured, discovered []serviceDescriptor) []serviceDescriptor {
	seen := make(map[string]bool, len(configured))
	merged := make([]serviceDescriptor, 0, len(configured)+len(discovered))
	for _, d := range configured {
		seen[d.name] = true
		merged = append(merged, d)
	}
	for _, d := range discovered {
		if seen[d.name] {
			log.Infof("Service with name %s is configured explicitly, ignoring the discovered one", d.name)
			continue
		}
		seen[d.name] = true
		merged = append(merged, d)
	}
	return merged
}
