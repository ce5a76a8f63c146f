// Package dispatcher implements the TaskRegistry's HTTP-facing dispatch
// surface of spec §4.7/§6: the /tasks/* endpoint table, trace-seeding and
// auth middleware, and the queue abstraction that switches between an
// in-process mock and a Redis-backed queue depending on environment —
// grounded on original_source/workers/main.py's get_task_manager()
// dependency-injection switch (ENVIRONMENT=local selects the mock) and on
// orchestration/redis_task_queue.go's RedisTaskQueue for the real path.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/userport/enrichment-worker/task"
)

// Queue enqueues a validated task payload for asynchronous execution. The
// dispatcher never executes tasks itself on the create path — it hands the
// payload to Queue and returns immediately with a queue-assigned task ID,
// per spec §4.7's "enqueue via TaskQueue, return {status: scheduled,
// task_id}".
type Queue interface {
	Enqueue(ctx context.Context, payload task.Payload) (taskID string, err error)
}

// LocalQueue is the in-process mock queue selected when Environment ==
// "local", mirroring original_source/workers/services/mocks/
// mock_task_manager.py: it calls the registered task's Execute directly
// instead of round-tripping through a real queue, and hands the result to
// onComplete for callback delivery and job-status bookkeeping.
type LocalQueue struct {
	registry   *task.Registry
	onComplete func(ctx context.Context, payload task.Payload, result task.Result, execErr error)
	idFn       func() string
}

func NewLocalQueue(registry *task.Registry, idFn func() string, onComplete func(ctx context.Context, payload task.Payload, result task.Result, execErr error)) *LocalQueue {
	return &LocalQueue{registry: registry, onComplete: onComplete, idFn: idFn}
}

func (q *LocalQueue) Enqueue(ctx context.Context, payload task.Payload) (string, error) {
	spec, err := q.registry.Get(payload.TaskName)
	if err != nil {
		return "", err
	}
	taskID := q.idFn()

	go func() {
		result, execErr := spec.Execute(ctx, payload)
		if q.onComplete != nil {
			q.onComplete(context.Background(), payload, result, execErr)
		}
	}()

	return taskID, nil
}

// RedisQueue enqueues payloads onto a Redis list for a separate worker pool
// to dequeue, the Cloud-Tasks-queue analogue used outside local development.
// Grounded directly on orchestration/redis_task_queue.go's LPUSH-based
// RedisTaskQueue, narrowed to this worker's Payload wire shape.
type RedisQueue struct {
	client   *redis.Client
	queueKey string
	idFn     func() string
}

const DefaultQueueKey = "enrichment:tasks:queue"

func NewRedisQueue(client *redis.Client, queueKey string, idFn func() string) *RedisQueue {
	if queueKey == "" {
		queueKey = DefaultQueueKey
	}
	return &RedisQueue{client: client, queueKey: queueKey, idFn: idFn}
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload task.Payload) (string, error) {
	taskID := q.idFn()

	envelope := struct {
		TaskID  string                 `json:"task_id"`
		Payload map[string]interface{} `json:"payload"`
	}{TaskID: taskID, Payload: payload.ToMap()}

	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal queued task: %w", err)
	}
	if err := q.client.LPush(ctx, q.queueKey, data).Err(); err != nil {
		return "", fmt.Errorf("enqueue to redis: %w", err)
	}
	return taskID, nil
}
