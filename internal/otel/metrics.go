package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all taskdesk metric instruments.
type Metrics struct {
	RequestDuration metric.Float64Histogram
	SkillDuration   metric.Float64Histogram
	TasksMutated    metric.Int64Counter
	SkillRuns       metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("taskdesk.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SkillDuration, err = meter.Float64Histogram("taskdesk.skill.duration",
		metric.WithDescription("Skill invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksMutated, err = meter.Int64Counter("taskdesk.tasks.mutated",
		metric.WithDescription("Tasks updated or deleted by skill runs"),
	)
	if err != nil {
		return nil, err
	}

	m.SkillRuns, err = meter.Int64Counter("taskdesk.skill.runs",
		metric.WithDescription("Total skill invocations"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
