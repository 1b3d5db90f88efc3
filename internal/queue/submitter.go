package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// DefaultPrefix namespaces every key the submitter writes.
const DefaultPrefix = "promptgraph"

// Job is a stored flow job as workers see it.
type Job struct {
	FlowID   string         `json:"flowId"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Queue    string         `json:"queueName"`
	Data     map[string]any `json:"data,omitempty"`
	Children []string       `json:"children,omitempty"`
}

// Submission summarises a submitted flow.
type Submission struct {
	FlowID string   `json:"flowId"`
	Jobs   int      `json:"jobs"`
	Ready  []string `json:"ready"`
}

// Submitter hands a flow to a queue runtime.
type Submitter interface {
	Submit(ctx context.Context, flowID string, flow *dag.FlowJob) (*Submission, error)
}

// Options configures a RedisSubmitter.
type Options struct {
	Prefix string
	// TTL expires a flow's bookkeeping keys; zero keeps them.
	TTL time.Duration
}

// RedisSubmitter implements Submitter on go-redis/v9.
type RedisSubmitter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Submitter = (*RedisSubmitter)(nil)

// NewRedisSubmitter returns a submitter using client.
func NewRedisSubmitter(client *redis.Client, opts Options) *RedisSubmitter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &RedisSubmitter{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

func (s *RedisSubmitter) jobKey(flowID, id string) string {
	return fmt.Sprintf("%s:flow:%s:job:%s", s.prefix, flowID, id)
}

func (s *RedisSubmitter) pendingKey(flowID, id string) string {
	return fmt.Sprintf("%s:flow:%s:pending:%s", s.prefix, flowID, id)
}

func (s *RedisSubmitter) parentsKey(flowID, id string) string {
	return fmt.Sprintf("%s:flow:%s:parents:%s", s.prefix, flowID, id)
}

// QueueKey returns the Redis list holding ready jobs of queue.
func (s *RedisSubmitter) QueueKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s", s.prefix, queue)
}

func (s *RedisSubmitter) doneKey(flowID string) string {
	return fmt.Sprintf("%s:flow:%s:done", s.prefix, flowID)
}

// RootJobID is the ID of the job standing for the whole flow. It cannot
// collide with a node job, whose ID is a node key.
func RootJobID(flowID string) string {
	return "flow:" + flowID
}

func jobID(j *dag.FlowJob) string {
	if j.Opts != nil && j.Opts.JobID != "" {
		return j.Opts.JobID
	}
	return j.Name
}

// Submit stores the root job and every node job of flow under flowID and
// enqueues the jobs without children. The root waits on every node job. The
// writes go through one MULTI/EXEC transaction.
func (s *RedisSubmitter) Submit(ctx context.Context, flowID string, flow *dag.FlowJob) (*Submission, error) {
	if flowID == "" {
		return nil, errors.New("submit: empty flow id")
	}

	root := &Job{FlowID: flowID, ID: RootJobID(flowID), Name: flow.Name, Queue: flow.QueueName, Data: flow.Data}
	known := make(map[string]struct{}, len(flow.Children))
	for _, fj := range flow.Children {
		id := jobID(fj)
		if _, dup := known[id]; dup {
			return nil, fmt.Errorf("submit: duplicate job %s", id)
		}
		known[id] = struct{}{}
		root.Children = append(root.Children, id)
	}

	jobs := make([]*Job, 0, len(flow.Children)+1)
	for _, fj := range flow.Children {
		job := &Job{FlowID: flowID, ID: jobID(fj), Name: fj.Name, Queue: fj.QueueName, Data: fj.Data}
		childSeen := make(map[string]struct{}, len(fj.Children))
		for _, c := range fj.Children {
			cid := jobID(c)
			if _, ok := known[cid]; !ok {
				return nil, fmt.Errorf("submit: job %s waits on unknown job %s", job.ID, cid)
			}
			if _, dup := childSeen[cid]; dup {
				continue
			}
			childSeen[cid] = struct{}{}
			job.Children = append(job.Children, cid)
		}
		jobs = append(jobs, job)
	}
	jobs = append(jobs, root)

	sub := &Submission{FlowID: flowID, Jobs: len(jobs), Ready: []string{}}
	pipe := s.client.TxPipeline()
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}
		pipe.Set(ctx, s.jobKey(flowID, job.ID), data, s.ttl)
		pipe.Set(ctx, s.pendingKey(flowID, job.ID), len(job.Children), s.ttl)
		for _, c := range job.Children {
			key := s.parentsKey(flowID, c)
			pipe.SAdd(ctx, key, job.ID)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		if len(job.Children) == 0 {
			pipe.LPush(ctx, s.QueueKey(job.Queue), data)
			sub.Ready = append(sub.Ready, job.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to submit flow %s: %w", flowID, err)
	}
	return sub, nil
}

// completeScript marks ARGV[1] done and decrements the pending count of each
// of its parents, returning the parents that reached zero. A job already
// marked done changes nothing.
//
// KEYS[1] done set, KEYS[2] parents set; ARGV[2] pending key prefix,
// ARGV[3] TTL in milliseconds (0 keeps the done set).
var completeScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 0 then
  return {}
end
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
local released = {}
for _, p in ipairs(redis.call('SMEMBERS', KEYS[2])) do
  if redis.call('DECR', ARGV[2] .. p) == 0 then
    table.insert(released, p)
  end
end
return released
`)

// Complete marks jobID done and enqueues every parent that has no unfinished
// children left. It returns the IDs it enqueued. Completing a job twice
// releases nothing the second time.
func (s *RedisSubmitter) Complete(ctx context.Context, flowID, jobID string) ([]string, error) {
	released, err := completeScript.Run(ctx, s.client,
		[]string{s.doneKey(flowID), s.parentsKey(flowID, jobID)},
		jobID, s.pendingKey(flowID, ""), s.ttl.Milliseconds(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to complete %s: %w", jobID, err)
	}
	sort.Strings(released)

	for i, p := range released {
		data, err := s.client.Get(ctx, s.jobKey(flowID, p)).Bytes()
		if err != nil {
			return released[:i], fmt.Errorf("failed to load job %s: %w", p, err)
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return released[:i], fmt.Errorf("failed to unmarshal job %s: %w", p, err)
		}
		if err := s.client.LPush(ctx, s.QueueKey(job.Queue), data).Err(); err != nil {
			return released[:i], fmt.Errorf("failed to push to queue %s: %w", job.Queue, err)
		}
	}
	return released, nil
}

// Pop removes the oldest ready job of queue, waiting up to timeout. It returns
// nil when nothing became ready in time.
func (s *RedisSubmitter) Pop(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	result, err := s.client.BRPop(ctx, timeout, s.QueueKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from queue %s: %w", queue, err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
