// Copyright 2025 The gp-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes geoprocessing job activity as Prometheus metrics.
//
// A [Collector] is a [gpclient.JobObserver]: install it on an [gpclient.AsyncService]
// with [gpclient.WithObservers] and serve the registry it was registered with.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/gpclient"
)

const namespace = "gp"

// Collector records job lifecycle events.
type Collector struct {
	jobsSubmitted *prometheus.CounterVec
	jobPolls      *prometheus.CounterVec
	jobMessages   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobsInFlight  *prometheus.GaugeVec
	jobDuration   *prometheus.HistogramVec
}

var _ gpclient.JobObserver = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
// A nil reg registers with [prometheus.DefaultRegisterer].
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted by a geoprocessing service",
		}, []string{"task"}),
		jobPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_polls_total",
			Help:      "Total number of job status responses by reported status",
		}, []string{"task", "status"}),
		jobMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_messages_total",
			Help:      "Total number of job messages by message type",
		}, []string{"task", "type"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs which stopped being waited for, by outcome",
		}, []string{"task", "outcome"}),
		jobsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Number of submitted jobs still being waited for",
		}, []string{"task"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission until a job stopped being waited for",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"task"}),
	}
	reg.MustRegister(
		c.jobsSubmitted,
		c.jobPolls,
		c.jobMessages,
		c.jobsFinished,
		c.jobsInFlight,
		c.jobDuration,
	)
	return c
}

// JobSubmitted implements [gpclient.JobObserver].
func (c *Collector) JobSubmitted(ctx context.Context, task, jobID string) {
	c.jobsSubmitted.WithLabelValues(task).Inc()
	c.jobsInFlight.WithLabelValues(task).Inc()
}

// JobPolled implements [gpclient.JobObserver].
func (c *Collector) JobPolled(ctx context.Context, task, jobID string, status gp.JobStatus) {
	c.jobPolls.WithLabelValues(task, statusLabel(status)).Inc()
}

// JobMessage implements [gpclient.JobObserver].
func (c *Collector) JobMessage(ctx context.Context, task, jobID string, msg gp.JobMessage) {
	c.jobMessages.WithLabelValues(task, messageTypeLabel(msg.Type)).Inc()
}

// JobFinished implements [gpclient.JobObserver].
func (c *Collector) JobFinished(ctx context.Context, task, jobID string, status gp.JobStatus, elapsed time.Duration, err error) {
	c.jobsInFlight.WithLabelValues(task).Dec()
	c.jobsFinished.WithLabelValues(task, gp.Outcome(err)).Inc()
	c.jobDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

func statusLabel(status gp.JobStatus) string {
	if status == gp.JobStatusUnspecified {
		return "unknown"
	}
	return strings.TrimPrefix(string(status), "esriJob")
}

func messageTypeLabel(t gp.MessageType) string {
	switch t {
	case gp.MessageInformative:
		return "informative"
	case gp.MessageWarning:
		return "warning"
	case gp.MessageError:
		return "error"
	default:
		return "unknown"
	}
}
