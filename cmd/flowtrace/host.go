package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/flowtrace"
	"github.com/zoobzio/flowtrace/interceptor"
)

const (
	demoWorkflowType = "OrderWorkflow"
	demoTaskQueue    = "orders"
	demoNamespace    = "default"
)

// hostWorkflow is the simulated engine's view of a running workflow.
type hostWorkflow struct {
	workflowType string
	replaying    bool
}

func (w hostWorkflow) IsReplaying() bool    { return w.replaying }
func (w hostWorkflow) WorkflowType() string { return w.workflowType }

// simulatedHost plays the workflow engine around the interceptors: a client
// starts a workflow, the workflow schedules an activity, a worker runs it,
// and the workflow is replayed once from history.
type simulatedHost struct {
	tracing *interceptor.Tracing
	logger  *slog.Logger
	work    time.Duration
}

type demoResult struct {
	Execution interceptor.WorkflowExecution
	Charge    any
	UpdateID  string
}

func (h *simulatedHost) run(ctx context.Context) (demoResult, error) {
	var res demoResult

	header := flowtrace.NewHeader(flowtrace.HeaderEntry{Key: "tenant", Value: flowtrace.StringValue("acme")})
	start := interceptor.StartInput{
		Header:       header,
		WorkflowID:   "order-" + uuid.NewString(),
		WorkflowType: demoWorkflowType,
		TaskQueue:    demoTaskQueue,
		Args:         []any{"sku-42", 2},
	}

	var sent flowtrace.Header
	exec, err := h.tracing.Client.Start(ctx, start,
		func(_ context.Context, in interceptor.StartInput) (interceptor.WorkflowExecution, error) {
			sent = in.Header
			return interceptor.WorkflowExecution{ID: in.WorkflowID, RunID: uuid.NewString()}, nil
		})
	if err != nil {
		return res, fmt.Errorf("starting workflow: %w", err)
	}
	res.Execution = exec
	h.logger.Info("workflow started", "workflow_id", exec.ID, "run_id", exec.RunID)

	req := interceptor.OutboundRequest{
		Header: sent,
		Kind:   interceptor.RequestExecuteActivity,
		Name:   "ChargeCard",
		ID:     1,
	}
	wf := hostWorkflow{workflowType: demoWorkflowType}

	charge, err := h.dispatch(ctx, wf, exec, req, nil).Get(ctx)
	if err != nil {
		return res, fmt.Errorf("charging card: %w", err)
	}
	res.Charge = charge

	// Replay resolves the request from history; nothing new is traced.
	wf.replaying = true
	if _, err := h.dispatch(ctx, wf, exec, req, charge).Get(ctx); err != nil {
		return res, fmt.Errorf("replaying workflow: %w", err)
	}

	update := interceptor.UpdateWithStartInput{
		UpdateName: "addItem",
		UpdateID:   uuid.NewString(),
		UpdateArgs: []any{"sku-7"},
		Start:      start,
	}
	out, err := h.tracing.Client.UpdateWithStart(ctx, update,
		func(_ context.Context, in interceptor.UpdateWithStartInput) (interceptor.UpdateWithStartOutput, error) {
			return interceptor.UpdateWithStartOutput{UpdateID: in.UpdateID, Execution: exec}, nil
		})
	if err != nil {
		return res, fmt.Errorf("updating workflow: %w", err)
	}
	res.UpdateID = out.UpdateID

	return res, nil
}

// dispatch sends req through the outbound interceptor. Live requests run the
// activity on a worker goroutine; replayed ones settle from history.
func (h *simulatedHost) dispatch(
	ctx context.Context,
	wf hostWorkflow,
	exec interceptor.WorkflowExecution,
	req interceptor.OutboundRequest,
	history any,
) interceptor.Future {
	return h.tracing.Outbound.HandleOutboundRequest(ctx, wf, req,
		func(ctx context.Context, req interceptor.OutboundRequest) interceptor.Future {
			if wf.replaying {
				return interceptor.ReadyFuture(history, nil)
			}

			future, settable := interceptor.NewFuture()
			in := interceptor.ActivityInput{
				Header: req.Header,
				Args:   []any{exec.ID},
				Info: interceptor.ActivityInfo{
					ID:                strconv.FormatInt(req.ID, 10),
					Type:              req.Name,
					TaskQueue:         demoTaskQueue,
					WorkflowType:      wf.workflowType,
					WorkflowID:        exec.ID,
					RunID:             exec.RunID,
					WorkflowNamespace: demoNamespace,
					Attempt:           1,
				},
			}
			go func() {
				settable.Set(h.tracing.Activity.ExecuteActivity(ctx, in, h.chargeCard))
			}()
			return future
		})
}

func (h *simulatedHost) chargeCard(ctx context.Context, in interceptor.ActivityInput) (any, error) {
	select {
	case <-time.After(h.work):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.logger.Debug("activity completed", "activity", in.Info.Type, "attempt", in.Info.Attempt)
	return fmt.Sprintf("charged:%s", in.Info.WorkflowID), nil
}
