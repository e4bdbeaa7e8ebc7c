// Package export writes run results in the Prometheus textfile format so a
// node_exporter textfile collector can pick them up.
package export

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

// Sample is the data exported for one run
type Sample struct {
	Device      string
	Mode        string
	MO          uint8
	NRUHSD      uint16
	Descriptors []nvme.RuhStatusDesc

	CommandsSubmitted uint64
	CommandsCompleted uint64
	CommandsFailed    uint64
	QueuesCreated     uint64
	QueuesTerminated  uint64
	DurationSeconds   float64
}

// Collector holds the gauges for one textfile
type Collector struct {
	registry *prometheus.Registry

	ruamw     *prometheus.GaugeVec
	earutr    *prometheus.GaugeVec
	nruhsd    *prometheus.GaugeVec
	commands  *prometheus.GaugeVec
	queues    *prometheus.GaugeVec
	duration  *prometheus.GaugeVec
	lastReset *prometheus.GaugeVec
}

// NewCollector creates a collector on a private registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ruamw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdp_ruh_available_media_writes",
			Help: "Reclaim unit available media writes, in logical blocks",
		}, []string{"device", "pid", "ruhid"}),
		earutr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdp_ruh_active_time_remaining_seconds",
			Help: "Estimated active reclaim unit time remaining",
		}, []string{"device", "pid", "ruhid"}),
		nruhsd: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdp_ruh_descriptors_reported",
			Help: "Reclaim unit handle descriptor count reported by the device",
		}, []string{"device"}),
		commands: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdp_commands",
			Help: "IO Management Send commands by outcome",
		}, []string{"device", "outcome"}),
		queues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdp_queues",
			Help: "Queues created and terminated during the run",
		}, []string{"device", "event"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdp_run_duration_seconds",
			Help: "Wall time of the run",
		}, []string{"device", "mode"}),
		lastReset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fdp_stats_reset",
			Help: "1 if the run reset the placement statistics",
		}, []string{"device", "mo"}),
	}
	c.registry.MustRegister(c.ruamw, c.earutr, c.nruhsd, c.commands, c.queues, c.duration, c.lastReset)
	return c
}

// Record sets every gauge from s
func (c *Collector) Record(s Sample) {
	for _, d := range s.Descriptors {
		pid := strconv.Itoa(int(d.PID))
		ruhid := strconv.Itoa(int(d.RUHID))
		c.ruamw.WithLabelValues(s.Device, pid, ruhid).Set(float64(d.RUAMW))
		c.earutr.WithLabelValues(s.Device, pid, ruhid).Set(float64(d.EARUTR))
	}
	c.nruhsd.WithLabelValues(s.Device).Set(float64(s.NRUHSD))

	c.commands.WithLabelValues(s.Device, "submitted").Set(float64(s.CommandsSubmitted))
	c.commands.WithLabelValues(s.Device, "completed").Set(float64(s.CommandsCompleted))
	c.commands.WithLabelValues(s.Device, "failed").Set(float64(s.CommandsFailed))
	c.queues.WithLabelValues(s.Device, "created").Set(float64(s.QueuesCreated))
	c.queues.WithLabelValues(s.Device, "terminated").Set(float64(s.QueuesTerminated))
	c.duration.WithLabelValues(s.Device, s.Mode).Set(s.DurationSeconds)

	reset := 0.0
	if s.Mode == "reset" {
		reset = 1
	}
	c.lastReset.WithLabelValues(s.Device, fmt.Sprintf("0x%02x", s.MO)).Set(reset)
}

// WriteTextfile atomically writes the registry to path
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write textfile %s: %w", path, err)
	}
	return nil
}

// WriteTextfile records s on a fresh collector and writes it to path
func WriteTextfile(path string, s Sample) error {
	c := NewCollector()
	c.Record(s)
	return c.WriteTextfile(path)
}
