package encoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesPiped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "encoder",
		Name:      "frames_piped_total",
		Help:      "Raw frames written to the encoder stdin",
	})

	bytesPiped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "encoder",
		Name:      "bytes_piped_total",
		Help:      "Raw frame bytes written to the encoder stdin",
	})

	writeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "encoder",
		Name:      "write_failures_total",
		Help:      "Frame writes that failed because the encoder pipe broke",
	})

	restarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camstream",
		Subsystem: "encoder",
		Name:      "restarts_total",
		Help:      "Encoder restarts triggered by configuration changes",
	})
)
