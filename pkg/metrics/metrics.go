package metrics

import (
	"log/slog"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

// Counter and timer names emitted by the marketplace client
const (
	EventsApplied   = "marketplace.events.applied"
	EventsDropped   = "marketplace.events.dropped"
	EventsDuplicate = "marketplace.events.duplicate"
	ActionsRollback = "marketplace.actions.rollback"
	SnapshotErr     = "marketplace.snapshot.err"
	SnapshotLatency = "marketplace.snapshot.latency"
)

// Recorder records counters and timings.
// Tags are passed as key/value pairs: "kind", "auction.created".
type Recorder interface {
	Incr(name string, tags ...string)
	Timing(name string, d time.Duration, tags ...string)
}

// Nop discards everything
type Nop struct{}

func (Nop) Incr(string, ...string)                  {}
func (Nop) Timing(string, time.Duration, ...string) {}

// statsClient is the subset of *statsd.Client used here
type statsClient interface {
	Incr(name string, tags []string, rate float64) error
	Timing(name string, value time.Duration, tags []string, rate float64) error
	Close() error
}

// StatsD sends metrics to a DataDog agent
type StatsD struct {
	client statsClient
	tags   []string
	logger *slog.Logger
}

// NewStatsD connects to the DataDog agent at addr (host:port).
// Global tags are given as key/value pairs.
func NewStatsD(addr string, logger *slog.Logger, tags ...string) (*StatsD, error) {
	client, err := statsd.New(addr)
	if err != nil {
		return nil, err
	}
	return newStatsD(client, logger, tags...), nil
}

func newStatsD(client statsClient, logger *slog.Logger, tags ...string) *StatsD {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsD{client: client, tags: parseTags(tags), logger: logger}
}

// Incr bumps a counter by one
func (s *StatsD) Incr(name string, tags ...string) {
	if err := s.client.Incr(name, append(parseTags(tags), s.tags...), 1); err != nil {
		s.logger.Warn("Failed to send metric", "metric", name, "error", err)
	}
}

// Timing records a duration
func (s *StatsD) Timing(name string, d time.Duration, tags ...string) {
	if err := s.client.Timing(name, d, append(parseTags(tags), s.tags...), 1); err != nil {
		s.logger.Warn("Failed to send metric", "metric", name, "error", err)
	}
}

// Close flushes buffered metrics and closes the connection
func (s *StatsD) Close() error {
	return s.client.Close()
}

// parseTags turns key/value pairs into datadog "key:value" tags.
// A trailing key without value is dropped.
func parseTags(tags []string) []string {
	if len(tags) < 2 {
		return nil
	}
	out := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, tags[i]+":"+strings.ToLower(tags[i+1]))
	}
	return out
}
