package main

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// serviceRegistry maps service names to descriptors. It is populated once at
// startup and never changes afterwards, so reads need no locking.
type serviceRegistry struct {
	services map[string]serviceDescriptor
	ordered  []string
}

func newServiceRegistry(descriptors ...serviceDescriptor) (*serviceRegistry, error) {
	r := &serviceRegistry{services: make(map[string]serviceDescriptor)}
	for _, d := range descriptors {
		if err := r.register(d); err != nil {
			return nil, err
		}
	}
	sort.Strings(r.ordered)
	return r, nil
}

func (r *serviceRegistry) register(d serviceDescriptor) error {
	if d.name == "" {
		return errors.New("service name must not be empty")
	}
	if _, found := r.services[d.name]; found {
		return fmt.Errorf("service %s is registered more than once", d.name)
	}

	u, err := url.Parse(d.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL for service %s: %w", d.name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL for service %s: %q is not absolute", d.name, d.baseURL)
	}

	d.baseURL = strings.TrimSuffix(d.baseURL, "/")
	if d.healthPath == "" {
		d.healthPath = defaultHealthPath
	}
	if !strings.HasPrefix(d.healthPath, "/") {
		d.healthPath = "/" + d.healthPath
	}

	r.services[d.name] = d
	r.ordered = append(r.ordered, d.name)
	return nil
}

func (r *serviceRegistry) resolve(name string) (serviceDescriptor, error) {
	if d, found := r.services[name]; found {
		return d, nil
	}
	return serviceDescriptor{}, &unknownServiceError{name: name}
}

func (r *serviceRegistry) isRegistered(name string) bool {
	_, found := r.services[name]
	return found
}

func (r *serviceRegistry) names() []string {
	names := make([]string, len(r.ordered))
	copy(names, r.ordered)
	return names
}

func (r *serviceRegistry) descriptors() []serviceDescriptor {
	result := make([]serviceDescriptor, 0, len(r.ordered))
	for _, name := range r.ordered {
		result = append(result, r.services[name])
	}
	return result
}
