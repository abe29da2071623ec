// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// metrics mirrors cmd/tcgdiskstat's outputMetrics shape (a
// prometheus.NewPedanticRegistry gathered and written with expfmt), but
// as live counters updated as pairing and broadcast events happen instead
// of a one-shot point-in-time dump, since ptpiphostd is a daemon rather
// than a CLI that exits after one pass.
type metrics struct {
	registry          *prometheus.Registry
	probesAnswered    prometheus.Counter
	pairingAttempts   prometheus.Counter
	pairingRejections prometheus.Counter
	sessionsOpened    prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewPedanticRegistry(),
		probesAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptpip_host_probes_answered_total",
			Help: "SRCH broadcast probes answered.",
		}),
		pairingAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptpip_host_pairing_attempts_total",
			Help: "CONNECT requests received from devices.",
		}),
		pairingRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptpip_host_pairing_rejections_total",
			Help: "Pairing attempts declined at the PIN prompt (operator decline or prompt failure); PIN and GUID mismatches at REGISTER are not counted.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptpip_host_sessions_opened_total",
			Help: "PTP/IP sessions successfully handshaken after pairing.",
		}),
	}
	m.registry.MustRegister(m.probesAnswered, m.pairingAttempts, m.pairingRejections, m.sessionsOpened)
	return m
}

// serveMetrics exposes the registry as a pulled text dump on /metrics,
// gathered and serialized with expfmt.MetricFamilyToText exactly the way
// cmd/tcgdiskstat's outputMetrics writes to stdout, just written to an
// HTTP response instead since this is a long-running daemon being
// scraped rather than a one-shot CLI dump.
func serveMetrics(addr string, m *metrics) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		mfs, err := m.registry.Gather()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				log.Printf("ptpiphostd: encode metric family %s: %v", mf.GetName(), err)
				return
			}
		}
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("ptpiphostd: metrics server: %v", err)
	}
}
