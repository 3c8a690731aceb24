// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes control loop counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/bmslink/internal/vcu"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

// Metrics follows the control loop as a vcu.Observer
type Metrics struct {
	registry *prometheus.Registry
	decoder  *bmscan.Decoder

	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	Anomalies      *prometheus.CounterVec
	Faults         prometheus.Counter
	Resets         prometheus.Counter
	HeartbeatMode  *prometheus.GaugeVec
	BMSSOC         prometheus.Gauge
	BMSState       prometheus.Gauge
}

var _ vcu.Observer = (*Metrics)(nil)

// New creates the collectors on a private registry. ids classifies
// transmitted frames.
func New(ids bmscan.IDs) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decoder:  bmscan.NewDecoder(ids),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bmslink_frames_received_total",
				Help: "CAN frames received, by message kind.",
			},
			[]string{"kind"},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bmslink_frames_sent_total",
				Help: "CAN frames transmitted, by message kind.",
			},
			[]string{"kind"},
		),
		Anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bmslink_frame_anomalies_total",
				Help: "Protocol violations found in received frames.",
			},
			[]string{"type"},
		),
		Faults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bmslink_can_faults_total",
			Help: "CAN peripheral faults reported by the transport.",
		}),
		Resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bmslink_can_resets_total",
			Help: "Successful CAN peripheral resets.",
		}),
		HeartbeatMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bmslink_vcu_heartbeat_mode",
				Help: "Current VCU heartbeat mode (1 for the active mode).",
			},
			[]string{"mode"},
		),
		BMSSOC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bmslink_bms_soc_percentage",
			Help: "Last state of charge reported by the BMS heartbeat.",
		}),
		BMSState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bmslink_bms_state",
			Help: "Last raw BMS state reported by the BMS heartbeat.",
		}),
	}

	m.registry.MustRegister(
		m.FramesReceived, m.FramesSent, m.Anomalies, m.Faults, m.Resets,
		m.HeartbeatMode, m.BMSSOC, m.BMSState,
		collectors.NewGoCollector(),
	)
	return m
}

// SetMode marks mode as the active heartbeat mode
func (m *Metrics) SetMode(mode vcu.Mode) {
	for _, candidate := range []vcu.Mode{vcu.ModeStandby, vcu.ModeDischarge, vcu.ModeNone} {
		v := 0.0
		if candidate == mode {
			v = 1
		}
		m.HeartbeatMode.WithLabelValues(candidate.String()).Set(v)
	}
}

func (m *Metrics) OnEvent(e vcu.Event) {
	switch e.Kind {
	case vcu.EventFrameReceived:
		m.FramesReceived.WithLabelValues(bmscan.FormatMessageKind(e.Message.Kind)).Inc()
		for _, a := range e.Anomalies {
			m.Anomalies.WithLabelValues(a.Type.String()).Inc()
		}
		if e.Message.Kind == bmscan.KindBMSHeartbeat {
			m.BMSSOC.Set(float64(e.Message.Heartbeat.SOCPercentage))
			m.BMSState.Set(float64(e.Message.Heartbeat.State))
		}
	case vcu.EventFrameSent:
		m.FramesSent.WithLabelValues(bmscan.FormatMessageKind(m.decoder.Classify(e.Frame.ID))).Inc()
	case vcu.EventModeChanged:
		m.SetMode(e.Mode)
	case vcu.EventFault:
		m.Faults.Inc()
	case vcu.EventReset:
		m.Resets.Inc()
	}
}

// Registry returns the private registry for tests and handlers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP server on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
