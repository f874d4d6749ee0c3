// Package monitor exposes driver activity as Prometheus metrics.
package monitor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaunagostinho/roomba-oi/internal/oi"
	"github.com/shaunagostinho/roomba-oi/internal/transport"
)

// Metrics groups the driver's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	FramesSent   *prometheus.CounterVec
	SendFailures *prometheus.CounterVec
	SensorReads  *prometheus.CounterVec
	Connects     *prometheus.CounterVec
	Mode         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomba_frames_sent_total",
			Help: "Command frames written to the robot.",
		}, []string{"opcode"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomba_send_failures_total",
			Help: "Command frames that failed to transmit.",
		}, []string{"opcode"}),
		SensorReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomba_sensor_reads_total",
			Help: "Sensor queries by packet and result.",
		}, []string{"packet", "result"}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomba_connects_total",
			Help: "Connection attempts by result.",
		}, []string{"result"}),
		Mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomba_mode",
			Help: "Host-tracked OI mode: 0 off, 1 passive, 2 safe, 3 full.",
		}),
	}
	reg.MustRegister(m.FramesSent, m.SendFailures, m.SensorReads, m.Connects, m.Mode)
	return m
}

// ObserveSend counts one transmitted or failed frame.
func (m *Metrics) ObserveSend(op byte, err error) {
	if m == nil {
		return
	}
	label := oi.OpName(op)
	if err != nil {
		m.SendFailures.WithLabelValues(label).Inc()
		return
	}
	m.FramesSent.WithLabelValues(label).Inc()
}

// ObserveSensor counts one sensor exchange.
func (m *Metrics) ObserveSensor(id oi.PacketID, err error) {
	if m == nil {
		return
	}
	m.SensorReads.WithLabelValues(id.String(), result(err)).Inc()
}

// ObserveConnect counts one discovery run.
func (m *Metrics) ObserveConnect(err error) {
	if m == nil {
		return
	}
	m.Connects.WithLabelValues(result(err)).Inc()
}

// SetMode publishes the current mode.
func (m *Metrics) SetMode(mode oi.Mode) {
	if m == nil {
		return
	}
	m.Mode.Set(float64(mode))
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrNoConnection):
		return "no_connection"
	case errors.Is(err, transport.ErrSendFailed):
		return "send_failed"
	case errors.Is(err, transport.ErrReadFailed):
		return "read_failed"
	case errors.Is(err, transport.ErrNoRobot):
		return "no_robot"
	default:
		return "error"
	}
}
