package main

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	log "github.com/Financial-Times/go-logger"
)

const (
	pilotLightFormat = "availability-gate.%s.pilot-light 1 %d\n"
	metricFormat     = "availability-gate.%s.services.%s %d %d\n"
)

type graphiteFeeder struct {
	url         string
	environment string
	connection  net.Conn
	ticker      *time.Ticker
	cache       *healthCache
}

func newGraphiteFeeder(url string, environment string, period time.Duration, cache *healthCache) *graphiteFeeder {
	return &graphiteFeeder{
		url:         url,
		environment: environment,
		connection:  tcpConnect(url),
		ticker:      time.NewTicker(period),
		cache:       cache,
	}
}

func (g *graphiteFeeder) feed() {
	for range g.ticker.C {
		if err := g.sendPilotLight(); err != nil {
			log.WithError(err).Warn("Problem encountered while sending pilot light to Graphite.")
			g.reconnect()
			continue
		}

		if err := g.sendStatuses(time.Now()); err != nil {
			log.WithError(err).Warn("Problem encountered while sending service statuses to Graphite.")
			g.reconnect()
		}
	}
}

func (g *graphiteFeeder) sendPilotLight() error {
	if g.connection == nil {
		return errors.New("can't send pilot light, no Graphite connection is set")
	}

	_, err := fmt.Fprintf(g.connection, pilotLightFormat, g.environment, time.Now().Unix())
	return err
}

func (g *graphiteFeeder) sendStatuses(now time.Time) error {
	if g.connection == nil {
		return errors.New("can't send service statuses, no Graphite connection is set")
	}

	statuses := g.cache.snapshot()
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		metricName := strings.Replace(name, ".", "-", -1)
		if _, err := fmt.Fprintf(g.connection, metricFormat, g.environment, metricName, inverseBoolToInt(statuses[name]), now.Unix()); err != nil {
			return err
		}
	}
	return nil
}

func (g *graphiteFeeder) reconnect() {
	log.Infof("Reconnecting to Graphite host.")
	if g.connection != nil {
		_ = g.connection.Close()
	}
	g.connection = tcpConnect(g.url)
}

func tcpConnect(url string) net.Conn {
	conn, err := net.DialTimeout("tcp", url, 5*time.Second)
	if err != nil {
		log.WithError(err).Warn("Error while creating TCP connection to Graphite")
		return nil
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Minute)
	}
	return conn
}

func inverseBoolToInt(b bool) int {
	if b {
		return 0
	}
	return 1
}
