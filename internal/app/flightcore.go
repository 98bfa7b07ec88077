// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/flightcore/internal/clock"
	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/core"
	"github.com/relabs-tech/flightcore/internal/logging"
	"github.com/relabs-tech/flightcore/internal/metrics"
)

// Publisher ships cycle outputs downstream.
type Publisher interface {
	Publish(out core.Output) error
}

// statusEvery is how often the loop logs a status line.
const statusEvery = 10 * time.Second

// RunFlightCore initializes the sensor, optionally calibrates, and runs the
// control loop until ctx is cancelled or the sensor is lost.
func RunFlightCore(ctx context.Context) error {
	cfg := config.Get()
	log := logging.Component("flightcore")
	log.Info("starting flight core")

	clk := clock.NewSystem()
	dev, b, err := openDevice(cfg, clk)
	if err != nil {
		return err
	}
	defer b.Close()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		m = metrics.New(reg)
		srv := serveMetrics(cfg.MetricsAddr, reg, log)
		defer srv.Close()
	}

	c := core.New(dev, clk, core.Options{
		FilterWeight: cfg.FilterWeight,
		TimeoutLimit: cfg.SensorTimeoutLimit,
	}, logging.Component("core"), m)

	if err := c.Init(ctx); err != nil {
		return err
	}
	if cfg.CalibrateOnStart {
		log.Info("keep the vehicle level and still during calibration")
		c.BeginGyroCalibration()
		c.BeginAccelCalibration()
	}

	pub := newMQTTPublisher(cfg, log)
	defer pub.Close()

	l := &flightLoop{
		core:     c,
		pub:      pub,
		every:    cfg.PublishEvery,
		interval: time.Duration(cfg.LoopIntervalMS) * time.Millisecond,
		log:      log,
	}
	return l.run(ctx)
}

type flightLoop struct {
	core     *core.Core
	pub      Publisher
	every    int
	interval time.Duration
	log      *logrus.Entry

	cycles    uint64
	failures  uint64
	published uint64
}

func (l *flightLoop) run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	status := time.NewTicker(statusEvery)
	defer status.Stop()

	l.log.Infof("control loop running every %s", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.logStatus()
			l.log.Info("control loop stopped")
			return nil
		case <-status.C:
			l.logStatus()
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// tick runs one cycle. Only sensor loss is returned; other read errors keep
// the previous output and the loop carries on.
func (l *flightLoop) tick(ctx context.Context) error {
	out, err := l.core.Step(ctx)
	if err != nil {
		l.failures++
		if errors.Is(err, core.ErrSensorLost) {
			return err
		}
		return nil
	}
	l.cycles++
	if l.every > 0 && l.cycles%uint64(l.every) == 0 {
		if err := l.pub.Publish(out); err != nil {
			l.log.Warnf("publish: %v", err)
		} else {
			l.published++
		}
	}
	return nil
}

func (l *flightLoop) logStatus() {
	out := l.core.Last()
	l.log.WithFields(logrus.Fields{
		"cycles":    humanize.Comma(int64(l.cycles)),
		"failures":  humanize.Comma(int64(l.failures)),
		"published": humanize.Comma(int64(l.published)),
	}).Infof("roll=%.2f° pitch=%.2f°", attitudeFrom(out).RollDeg, attitudeFrom(out).PitchDeg)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

// mqttPublisher publishes the attitude and the full cycle output as retained
// messages. The broker connection is retried in the background; cycles
// published while disconnected are dropped.
type mqttPublisher struct {
	client        mqtt.Client
	topicAttitude string
	topicIMU      string
	log           *logrus.Entry
}

func newMQTTPublisher(cfg *config.Config, log *logrus.Entry) *mqttPublisher {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(2*time.Second) {
		log.Warnf("MQTT broker %s not reachable yet, retrying in background", cfg.MQTTBroker)
	} else if token.Error() != nil {
		log.Warnf("MQTT connect error: %v", token.Error())
	} else {
		log.Infof("connected to MQTT broker at %s", cfg.MQTTBroker)
	}

	return &mqttPublisher{
		client:        client,
		topicAttitude: cfg.TopicAttitude,
		topicIMU:      cfg.TopicIMU,
		log:           log,
	}
}

func (p *mqttPublisher) Publish(out core.Output) error {
	if !p.client.IsConnectionOpen() {
		return errors.New("not connected")
	}

	payload, err := json.Marshal(attitudeFrom(out))
	if err != nil {
		return fmt.Errorf("marshal attitude: %w", err)
	}
	p.client.Publish(p.topicAttitude, 0, true, payload)

	if p.topicIMU == "" {
		return nil
	}
	payload, err = json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	p.client.Publish(p.topicIMU, 0, true, payload)
	return nil
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}
