package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client       client.Client
	taskQueue    string
	limit        int
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// SetReconcileOptions sets the history limit and fetch timeout passed to scheduled workflows.
// Zero values leave the workflow defaults in place.
func (c *Client) SetReconcileOptions(limit int, fetchTimeout time.Duration) {
	c.limit = limit
	c.fetchTimeout = fetchTimeout
}

func (c *Client) workflowAction(address string) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        "reconcile-account-" + aptos.CanonicalAddress(address),
		Workflow:  "ReconcileAccountWorkflow",
		TaskQueue: c.taskQueue,
		Args: []interface{}{ReconcileAccountInput{
			Address:      address,
			Limit:        c.limit,
			FetchTimeout: c.fetchTimeout,
		}},
	}
}

// UpsertWatchSchedule creates or updates the Temporal schedule for an account.
// Overlapping fires are skipped so one account never has two reconciliations running.
func (c *Client) UpsertWatchSchedule(ctx context.Context, address string, interval time.Duration) error {
	id := scheduleID(address)

	c.logger.Debug("upserting watch schedule",
		"address", address,
		"schedule_id", id,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.createWatchSchedule(ctx, id, address, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			schedule := input.Description.Schedule
			schedule.Spec = &client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			}
			schedule.Action = c.workflowAction(address)
			if schedule.Policy == nil {
				schedule.Policy = &client.SchedulePolicies{}
			}
			schedule.Policy.Overlap = enumspb.SCHEDULE_OVERLAP_POLICY_SKIP
			return &client.ScheduleUpdate{Schedule: &schedule}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("watch schedule updated",
		"address", address,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

func (c *Client) createWatchSchedule(ctx context.Context, id, address string, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action:             c.workflowAction(address),
		Overlap:            enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		TriggerImmediately: true,
		Memo: map[string]interface{}{
			"address":    address,
			"created_by": "aptoswatch",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("watch schedule created",
		"address", address,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteWatchSchedule deletes the Temporal schedule for an account.
func (c *Client) DeleteWatchSchedule(ctx context.Context, address string) error {
	id := scheduleID(address)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("watch schedule deleted",
		"address", address,
		"schedule_id", id,
	)
	return nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
