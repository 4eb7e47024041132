package main

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/Financial-Times/go-logger"
)

type lookupEnvFunc func(string) (string, bool)

func parseKeyValues(entries []string) (map[string]string, error) {
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid entry %q, expected name=value", entry)
		}
		name := strings.TrimSpace(parts[0])
		if _, found := result[name]; found {
			return nil, fmt.Errorf("duplicate entry for %s", name)
		}
		result[name] = strings.TrimSpace(parts[1])
	}
	return result, nil
}

// serviceURLEnvVar follows the <NAME>_SERVICE_URL convention used by the
// sibling services, e.g. CALENDAR_SERVICE_URL.
func serviceURLEnvVar(serviceName string) string {
	return strings.ToUpper(strings.ReplaceAll(serviceName, "-", "_")) + "_SERVICE_URL"
}

func buildDescriptors(serviceEntries, healthPathEntries, deepCheckServices []string, lookupEnv lookupEnvFunc) ([]serviceDescriptor, error) {
	urls, err := parseKeyValues(serviceEntries)
	if err != nil {
		return nil, fmt.Errorf("cannot parse services: %w", err)
	}
	paths, err := parseKeyValues(healthPathEntries)
	if err != nil {
		return nil, fmt.Errorf("cannot parse health paths: %w", err)
	}

	for name, path := range paths {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("health path %q for service %s must start with /", path, name)
		}
		if _, found := urls[name]; !found {
			log.Warnf("Health path configured for service %s, which is not registered. Ignoring it.", name)
		}
	}

	deep := make(map[string]bool)
	for _, name := range deepCheckServices {
		if name = strings.TrimSpace(name); name != "" {
			deep[name] = true
		}
	}

	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]serviceDescriptor, 0, len(names))
	for _, name := range names {
		baseURL := urls[name]
		if envURL, found := lookupEnv(serviceURLEnvVar(name)); found && envURL != "" {
			baseURL = envURL
		}
		log.Infof("Using %s service URL: %s", name, baseURL)
		descriptors = append(descriptors, serviceDescriptor{
			name:       name,
			baseURL:    baseURL,
			healthPath: paths[name],
			deepCheck:  deep[name],
		})
	}
	return descriptors, nil
}
