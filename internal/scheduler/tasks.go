// Package scheduler runs the periodic background work: contact retries,
// reactivation of cooled leads, the stale sweep, and delivery dispatch.
package scheduler

import (
	"github.com/hibiken/asynq"
)

const (
	// TaskLeadsSweep runs the three lead lifecycle phases.
	TaskLeadsSweep = "leads.sweep"
	// TaskDeliveryDispatch drains due pending deliveries.
	TaskDeliveryDispatch = "deliveries.dispatch"
)

func NewLeadsSweepTask() *asynq.Task {
	return asynq.NewTask(TaskLeadsSweep, nil)
}

func NewDeliveryDispatchTask() *asynq.Task {
	return asynq.NewTask(TaskDeliveryDispatch, nil)
}
