// Package observability holds the prometheus collectors exported on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auditflow"

var (
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_transitions_total",
		Help:      "Task status transitions committed, by target status.",
	}, []string{"to"})

	StepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_transitions_total",
		Help:      "Workflow step transitions committed, by target status.",
	}, []string{"to"})

	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_transitions_total",
		Help:      "Transitions refused by the transition table or a guard.",
	}, []string{"reason"})

	DeadlinesPlanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deadlines_planned_total",
		Help:      "Deadlines computed by the TAT scheduler.",
	})

	DeadlineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deadline_failures_total",
		Help:      "Deadline computations that failed, usually on an exhausted calendar.",
	})

	TicketRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticket_allocation_retries_total",
		Help:      "Units of work rerun after losing a ticket id race.",
	})
)
