package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	log "github.com/Financial-Times/go-logger"
	"github.com/gorilla/mux"
	cli "github.com/jawher/mow.cli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

type appConfig struct {
	appSystemCode     string
	appName           string
	environment       string
	port              string
	pathPrefix        string
	services          []string
	healthPaths       []string
	deepCheckServices []string
	gatedServices     []string
	exemptPaths       []string
	calendarService   string
	forumService      string
	probeTimeout      time.Duration
	refreshPeriod     time.Duration
	metricsPeriod     time.Duration
	probeOnStartup    bool
	k8sDiscovery      bool
	namespace         string
	graphiteURL       string
}

func main() {
	app := cli.App("service-availability-gate", "Gates requests and integration calls on the cached availability of dependent services.")

	appSystemCode := app.String(cli.StringOpt{
		Name:   "app-system-code",
		Value:  "service-availability-gate",
		Desc:   "System Code of the application",
		EnvVar: "APP_SYSTEM_CODE",
	})
	appName := app.String(cli.StringOpt{
		Name:   "app-name",
		Value:  "Service Availability Gate",
		Desc:   "Application name",
		EnvVar: "APP_NAME",
	})
	environment := app.String(cli.StringOpt{
		Name:   "environment",
		Value:  "local",
		Desc:   "Environment tag (e.g. local, pre-prod, prod-uk)",
		EnvVar: "ENVIRONMENT",
	})
	port := app.String(cli.StringOpt{
		Name:   "port",
		Value:  "8080",
		Desc:   "Port to listen on",
		EnvVar: "APP_PORT",
	})
	pathPrefix := app.String(cli.StringOpt{
		Name:   "pathPrefix",
		Value:  "",
		Desc:   "Path prefix for all endpoints",
		EnvVar: "PATH_PREFIX",
	})
	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Value:  "info",
		Desc:   "Logging level (e.g. debug, info, warn)",
		EnvVar: "LOG_LEVEL",
	})
	services := app.Strings(cli.StringsOpt{
		Name:   "services",
		Value:  []string{"calendar=http://localhost:5000", "forum=http://localhost:8004"},
		Desc:   "Dependent services as name=baseURL. <NAME>_SERVICE_URL overrides the base URL of a single service",
		EnvVar: "SERVICES",
	})
	healthPaths := app.Strings(cli.StringsOpt{
		Name:   "health-paths",
		Value:  []string{"calendar=/api"},
		Desc:   "Health path overrides as name=/path. Services without an override are probed on /health",
		EnvVar: "HEALTH_PATHS",
	})
	deepCheckServices := app.Strings(cli.StringsOpt{
		Name:   "deep-check-services",
		Value:  []string{},
		Desc:   "Services whose health response body is parsed as an FT healthcheck",
		EnvVar: "DEEP_CHECK_SERVICES",
	})
	gatedServices := app.Strings(cli.StringsOpt{
		Name:   "gated-services",
		Value:  []string{},
		Desc:   "Services that must not be cached as unavailable for inbound requests to be served",
		EnvVar: "GATED_SERVICES",
	})
	exemptPaths := app.Strings(cli.StringsOpt{
		Name:   "exempt-paths",
		Value:  defaultExemptPaths,
		Desc:   "Paths that are never gated. /health and /services/status are always exempt",
		EnvVar: "EXEMPT_PATHS",
	})
	calendarService := app.String(cli.StringOpt{
		Name:   "calendar-service",
		Value:  "calendar",
		Desc:   "Registered name of the calendar service, empty to disable calendar integration",
		EnvVar: "CALENDAR_SERVICE",
	})
	forumService := app.String(cli.StringOpt{
		Name:   "forum-service",
		Value:  "forum",
		Desc:   "Registered name of the forum service, empty to disable forum integration",
		EnvVar: "FORUM_SERVICE",
	})
	probeTimeout := app.String(cli.StringOpt{
		Name:   "probe-timeout",
		Value:  "5s",
		Desc:   "Timeout of health probes and integration calls",
		EnvVar: "PROBE_TIMEOUT",
	})
	refreshPeriod := app.String(cli.StringOpt{
		Name:   "refresh-period",
		Value:  "0s",
		Desc:   "Period of the background refresh of every service, 0 disables it",
		EnvVar: "REFRESH_PERIOD",
	})
	metricsPeriod := app.String(cli.StringOpt{
		Name:   "metrics-period",
		Value:  "60s",
		Desc:   "Period at which cached statuses are published to Prometheus and Graphite",
		EnvVar: "METRICS_PERIOD",
	})
	probeOnStartup := app.Bool(cli.BoolOpt{
		Name:   "probe-on-startup",
		Value:  false,
		Desc:   "Probe every service once before serving requests",
		EnvVar: "PROBE_ON_STARTUP",
	})
	k8sDiscovery := app.Bool(cli.BoolOpt{
		Name:   "k8s-discovery",
		Value:  false,
		Desc:   "Also register the k8s services labelled hasHealthcheck=true",
		EnvVar: "K8S_DISCOVERY",
	})
	namespace := app.String(cli.StringOpt{
		Name:   "namespace",
		Value:  "default",
		Desc:   "Namespace used for k8s discovery",
		EnvVar: "NAMESPACE",
	})
	graphiteURL := app.String(cli.StringOpt{
		Name:   "graphite-url",
		Value:  "",
		Desc:   "Graphite host:port, empty disables the Graphite feeder",
		EnvVar: "GRAPHITE_URL",
	})

	app.Action = func() {
		log.InitLogger(*appSystemCode, *logLevel)

		cfg := appConfig{
			appSystemCode:     *appSystemCode,
			appName:           *appName,
			environment:       *environment,
			port:              *port,
			pathPrefix:        *pathPrefix,
			services:          *services,
			healthPaths:       *healthPaths,
			deepCheckServices: *deepCheckServices,
			gatedServices:     *gatedServices,
			exemptPaths:       *exemptPaths,
			calendarService:   *calendarService,
			forumService:      *forumService,
			probeOnStartup:    *probeOnStartup,
			k8sDiscovery:      *k8sDiscovery,
			namespace:         *namespace,
			graphiteURL:       *graphiteURL,
		}

		var err error
		if cfg.probeTimeout, err = time.ParseDuration(*probeTimeout); err != nil {
			log.WithError(err).Errorf("Invalid probe timeout %q", *probeTimeout)
			cli.Exit(1)
		}
		if cfg.refreshPeriod, err = time.ParseDuration(*refreshPeriod); err != nil {
			log.WithError(err).Errorf("Invalid refresh period %q", *refreshPeriod)
			cli.Exit(1)
		}
		if cfg.metricsPeriod, err = time.ParseDuration(*metricsPeriod); err != nil || cfg.metricsPeriod <= 0 {
			log.WithError(err).Errorf("Invalid metrics period %q", *metricsPeriod)
			cli.Exit(1)
		}

		if err := run(cfg); err != nil {
			log.WithError(err).Error("Service availability gate stopped")
			cli.Exit(1)
		}
	}

	err := app.Run(os.Args)
	if err != nil {
		panic(fmt.Sprintf("Cannot run the app. Error was: %v", err))
	}
}

func run(cfg appConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	for _, d := range registry.descriptors() {
		log.Infof("Registered service %s, health checked at %s (deep check: %t)", d.name, d.healthURL(), d.deepCheck)
	}

	metrics, err := newGateMetrics(cfg.environment, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("cannot register metrics: %w", err)
	}

	client := newHTTPClient(cfg.probeTimeout)
	cache := newHealthCache(registry, newHealthProbe(client, cfg.probeTimeout, metrics), metrics)
	caller := newIntegrationCaller(cache, client, cfg.probeTimeout, metrics)

	for _, name := range cfg.gatedServices {
		if !registry.isRegistered(name) {
			return fmt.Errorf("gated service %s is not registered", name)
		}
	}

	h := &httpHandler{
		cache:         cache,
		notifier:      newNotifier(caller, integrationService(registry, "calendar", cfg.calendarService), integrationService(registry, "forum", cfg.forumService)),
		gatedServices: cfg.gatedServices,
	}
	gate := newAvailabilityGate(cache, cfg.pathPrefix, cfg.exemptPaths, metrics)
	healthCheck := newGateHealthCheck(cfg.appSystemCode, cfg.appName, cache)

	if cfg.probeOnStartup {
		log.Infof("Initial availability: %v", cache.refreshAll(ctx))
	}
	if cfg.refreshPeriod > 0 {
		refresher := newPeriodicRefresher(cache, cfg.refreshPeriod)
		refresher.start(ctx)
		defer refresher.stop()
	}

	go newPrometheusFeeder(cfg.metricsPeriod, cache, metrics).feed()
	if cfg.graphiteURL != "" {
		go newGraphiteFeeder(cfg.graphiteURL, cfg.environment, cfg.metricsPeriod, cache).feed()
	}

	router := newRouter(h, gate, healthCheck, promhttp.Handler(), cfg.pathPrefix, cfg.gatedServices)
	return listen(ctx, router, cfg.port)
}

func buildRegistry(ctx context.Context, cfg appConfig) (*serviceRegistry, error) {
	descriptors, err := buildDescriptors(cfg.services, cfg.healthPaths, cfg.deepCheckServices, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	if cfg.k8sDiscovery {
		// creates the in-cluster config
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("cannot create in-cluster k8s config: %w", err)
		}
		k8sClient, err := kubernetes.NewForConfig(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create k8s client: %w", err)
		}
		discovered, err := discoverServices(ctx, k8sClient, cfg.namespace)
		if err != nil {
			return nil, err
		}
		descriptors = mergeDescriptors(descriptors, discovered)
	}

	return newServiceRegistry(descriptors...)
}

func integrationService(registry *serviceRegistry, collaborator, serviceName string) string {
	if serviceName == "" {
		log.Infof("The %s integration is disabled", collaborator)
		return ""
	}
	if !registry.isRegistered(serviceName) {
		log.Warnf("The %s integration is disabled: service %s is not registered", collaborator, serviceName)
		return ""
	}
	return serviceName
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout + time.Second,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 100,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

func newRouter(h *httpHandler, gate *availabilityGate, healthCheck fthealth.HealthCheck, metricsHandler http.Handler, pathPrefix string, gatedServices []string) *mux.Router {
	r := mux.NewRouter()
	s := r
	if pathPrefix != "" {
		s = r.PathPrefix(pathPrefix).Subrouter()
	}
	s.Use(gate.middleware(gatedServices...))

	s.HandleFunc("/health", h.handleHealth).Methods("GET")
	s.HandleFunc("/services/status", h.handleServicesStatus).Methods("GET")
	s.HandleFunc("/services/{name}", h.handleServiceStatus).Methods("GET")
	s.HandleFunc("/__health", fthealth.Handler(healthCheck))
	s.HandleFunc("/__gtg", h.handleGoodToGo)
	s.Handle("/metrics", metricsHandler)

	s.HandleFunc("/integrations/bugs", h.handleBugCreated).Methods("POST")
	s.HandleFunc("/integrations/bugs/{bugID}/status", h.handleBugStatusChanged).Methods("PUT")
	s.HandleFunc("/integrations/bugs/{bugID}/forum-topic", h.handleBugForumTopic).Methods("POST")
	s.HandleFunc("/integrations/reviews", h.handleReviewCreated).Methods("POST")
	return r
}

func listen(ctx context.Context, handler http.Handler, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on port %s", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("cannot set up HTTP listener: %w", err)
	case <-ctx.Done():
	}

	log.Infof("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
