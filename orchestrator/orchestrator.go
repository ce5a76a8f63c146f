package orchestrator

import (
	"context"
	"fmt"

	"github.com/userport/enrichment-worker/task"
)

// Enqueuer is the narrow slice of dispatcher.Queue the orchestrator needs:
// hand a task.Payload to the queue and get back a queue-assigned task ID.
// Defined locally rather than imported from dispatcher to keep orchestrator
// free of a dependency on the HTTP layer.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload task.Payload) (taskID string, err error)
}

// Resolver fetches dependency edges for a requested set of column IDs, per
// spec §4.10 step 2 ("Fetch dependency edges"). It must return, for each
// column ID in columnIDs, the subset of its prerequisites that are also in
// columnIDs — edges to columns outside the requested set are irrelevant to
// this chain and should be omitted.
type Resolver interface {
	Edges(ctx context.Context, columnIDs []string) (map[string][]string, error)
}

// OrchestrationData is the chaining payload carried in Payload.Fields
// across a column chain's enqueue/callback cycle, per spec §4.10 steps 4-5.
type OrchestrationData struct {
	NextColumns []string `json:"next_columns"`
	EntityIDs   []string `json:"entity_ids"`
	BatchSize   int      `json:"batch_size"`
	TenantID    string   `json:"tenant_id"`
}

// Orchestrator drives the column chain: topological sort, enqueue the head
// column, and advance to the next column when a terminal callback for the
// current head arrives, serializing concurrent chains for the same
// (tenant, entity_set) via Locker.
type Orchestrator struct {
	queue    Enqueuer
	resolver Resolver
	locker   *Locker
	idFn     func() string
}

func New(queue Enqueuer, resolver Resolver, locker *Locker, idFn func() string) *Orchestrator {
	return &Orchestrator{queue: queue, resolver: resolver, locker: locker, idFn: idFn}
}

// ErrChainInFlight is returned by Start when another chain already holds
// the (tenant, entity_set) lock.
var ErrChainInFlight = fmt.Errorf("a column chain is already in-flight for this tenant/entity set")

// Start computes the topological order of columnIDs, rejects cycles,
// acquires the single-flight lock, and enqueues the head column with the
// rest of the chain attached as orchestration_data — per spec §4.10 steps
// 1-4.
func (o *Orchestrator) Start(ctx context.Context, columnIDs, entityIDs []string, tenantID string, batchSize int) (taskID string, err error) {
	edges, err := o.resolver.Edges(ctx, columnIDs)
	if err != nil {
		return "", fmt.Errorf("resolve dependency edges: %w", err)
	}

	g := NewGraph()
	for _, id := range columnIDs {
		g.AddNode(id, edges[id])
	}
	if err := g.Validate(); err != nil {
		return "", err
	}

	sorted := g.TopologicalOrder()
	if len(sorted) == 0 {
		return "", fmt.Errorf("no columns to orchestrate")
	}

	fingerprint := Fingerprint(tenantID, entityIDs)
	acquired, err := o.locker.Acquire(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", ErrChainInFlight
	}

	head, rest := sorted[0], sorted[1:]
	return o.enqueueColumn(ctx, head, OrchestrationData{
		NextColumns: rest,
		EntityIDs:   entityIDs,
		BatchSize:   batchSize,
		TenantID:    tenantID,
	})
}

// Advance is invoked by the callback handler when a terminal callback for
// the current chain head arrives. On status=completed with a non-empty
// NextColumns, it enqueues the next column. On an empty chain, it releases
// the lock and reports done=true. On status=failed, per spec §4.10 step 6
// the chain is halted: the lock is released and downstream columns are
// never run.
func (o *Orchestrator) Advance(ctx context.Context, status task.Status, data OrchestrationData) (done bool, taskID string, err error) {
	fingerprint := Fingerprint(data.TenantID, data.EntityIDs)

	if status == task.StatusFailed {
		_ = o.locker.Release(ctx, fingerprint)
		return true, "", nil
	}

	if len(data.NextColumns) == 0 {
		_ = o.locker.Release(ctx, fingerprint)
		return true, "", nil
	}

	head, rest := data.NextColumns[0], data.NextColumns[1:]
	taskID, err = o.enqueueColumn(ctx, head, OrchestrationData{
		NextColumns: rest,
		EntityIDs:   data.EntityIDs,
		BatchSize:   data.BatchSize,
		TenantID:    data.TenantID,
	})
	if err != nil {
		_ = o.locker.Release(ctx, fingerprint)
		return true, "", err
	}
	return false, taskID, nil
}

func (o *Orchestrator) enqueueColumn(ctx context.Context, column string, data OrchestrationData) (string, error) {
	payload := task.Payload{
		TaskName:  column,
		JobID:     o.idFn(),
		AccountID: data.TenantID,
		Fields: map[string]interface{}{
			"orchestration_data": map[string]interface{}{
				"next_columns": data.NextColumns,
				"entity_ids":   data.EntityIDs,
				"batch_size":   data.BatchSize,
				"tenant_id":    data.TenantID,
			},
			"entity_ids": data.EntityIDs,
			"batch_size": data.BatchSize,
		},
	}
	return o.queue.Enqueue(ctx, payload)
}
