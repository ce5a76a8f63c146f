package orchestrator

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/userport/enrichment-worker/task"
)

type stubResolver struct {
	edges map[string][]string
}

func (r stubResolver) Edges(ctx context.Context, columnIDs []string) (map[string][]string, error) {
	return r.edges, nil
}

type stubQueue struct {
	enqueued []task.Payload
}

func (q *stubQueue) Enqueue(ctx context.Context, payload task.Payload) (string, error) {
	q.enqueued = append(q.enqueued, payload)
	return "queued-" + payload.TaskName, nil
}

func newTestOrchestrator(t *testing.T, edges map[string][]string) (*Orchestrator, *stubQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client)
	queue := &stubQueue{}
	resolver := stubResolver{edges: edges}
	o := New(queue, resolver, locker, func() string { return "job-id" })
	return o, queue
}

func TestStartEnqueuesHeadWithRestAsOrchestrationData(t *testing.T) {
	o, queue := newTestOrchestrator(t, map[string][]string{
		"linkedin":        nil,
		"company_summary": {"linkedin"},
	})

	taskID, err := o.Start(context.Background(), []string{"linkedin", "company_summary"}, []string{"e1", "e2"}, "tenant-a", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskID != "queued-linkedin" {
		t.Errorf("expected head column enqueued first, got %s", taskID)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected exactly one enqueue, got %d", len(queue.enqueued))
	}

	data, ok := queue.enqueued[0].Fields["orchestration_data"].(map[string]interface{})
	if !ok {
		t.Fatal("expected orchestration_data in enqueued payload fields")
	}
	next, _ := data["next_columns"].([]string)
	if len(next) != 1 || next[0] != "company_summary" {
		t.Errorf("expected next_columns=[company_summary], got %v", next)
	}
}

func TestStartRejectsConcurrentChainForSameEntitySet(t *testing.T) {
	o, _ := newTestOrchestrator(t, map[string][]string{"linkedin": nil})

	if _, err := o.Start(context.Background(), []string{"linkedin"}, []string{"e1"}, "tenant-a", 10); err != nil {
		t.Fatalf("unexpected error on first start: %v", err)
	}

	if _, err := o.Start(context.Background(), []string{"linkedin"}, []string{"e1"}, "tenant-a", 10); err != ErrChainInFlight {
		t.Fatalf("expected ErrChainInFlight on concurrent start, got %v", err)
	}
}

func TestStartRejectsCycle(t *testing.T) {
	o, _ := newTestOrchestrator(t, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})

	if _, err := o.Start(context.Background(), []string{"a", "b"}, []string{"e1"}, "tenant-a", 10); err == nil {
		t.Fatal("expected cycle rejection")
	}
}

func TestAdvanceEnqueuesNextColumnThenFinishes(t *testing.T) {
	o, queue := newTestOrchestrator(t, nil)

	data := OrchestrationData{NextColumns: []string{"next_col"}, EntityIDs: []string{"e1"}, TenantID: "tenant-a", BatchSize: 5}
	done, taskID, err := o.Advance(context.Background(), task.StatusCompleted, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Error("expected chain not done when NextColumns is non-empty")
	}
	if taskID != "queued-next_col" {
		t.Errorf("expected next_col enqueued, got %s", taskID)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(queue.enqueued))
	}

	finalData := OrchestrationData{NextColumns: nil, EntityIDs: []string{"e1"}, TenantID: "tenant-a"}
	done, _, err = o.Advance(context.Background(), task.StatusCompleted, finalData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Error("expected chain done when NextColumns is empty")
	}
}

func TestAdvanceHaltsChainOnFailure(t *testing.T) {
	o, queue := newTestOrchestrator(t, nil)

	data := OrchestrationData{NextColumns: []string{"next_col"}, EntityIDs: []string{"e1"}, TenantID: "tenant-a"}
	done, taskID, err := o.Advance(context.Background(), task.StatusFailed, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Error("expected chain to halt on failure")
	}
	if taskID != "" {
		t.Error("expected no downstream column enqueued on failure")
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("expected downstream column not enqueued on failure, got %d enqueues", len(queue.enqueued))
	}
}
