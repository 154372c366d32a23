package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

// TypeOrderReconcile is the asynq task type carrying a succeeded payment intent.
const TypeOrderReconcile = "order:reconcile"

// NewTask encodes a succeeded intent as a reconciliation task.
func NewTask(intent payment.SucceededIntent, opts ...asynq.Option) (*asynq.Task, error) {
	if strings.TrimSpace(intent.ID) == "" {
		return nil, errors.New("reconcile: payment intent id is required")
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("reconcile: encode payload: %w", err)
	}
	return asynq.NewTask(TypeOrderReconcile, payload, opts...), nil
}

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules reconciliation tasks. The task id is the payment intent id, so a
// redelivered webhook for the same intent never produces a second task.
type Enqueuer struct {
	Client    taskClient
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// Enqueue implements payment.Reconciler.
func (e Enqueuer) Enqueue(ctx context.Context, intent payment.SucceededIntent) error {
	if e.Client == nil {
		return errors.New("reconcile: task client not configured")
	}
	opts := []asynq.Option{asynq.TaskID(intent.ID)}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Retention > 0 {
		opts = append(opts, asynq.Retention(e.Retention))
	}
	task, err := NewTask(intent)
	if err != nil {
		return err
	}
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("reconcile: enqueue %s: %w", intent.ID, err)
	}
	return nil
}
