package dag

import (
	"errors"
	"fmt"
)

// FlowDetails names the flow and the queues its jobs go to.
type FlowDetails struct {
	Name      string `json:"name" yaml:"name"`
	FlowQueue string `json:"flowQueue" yaml:"flow_queue"`
	NodeQueue string `json:"nodeQueue" yaml:"node_queue"`
}

// JobOpts carries runtime options; JobID deduplicates jobs in the queue.
type JobOpts struct {
	JobID string `json:"jobId"`
}

// FlowJob is one node of an emitted job tree. A runtime must not start a job
// before every job in Children has completed.
//
// A flow is two levels deep: the root's children are the node jobs, and a node
// job's children are childless references to other node jobs, matched by
// Opts.JobID.
type FlowJob struct {
	Name      string         `json:"name"`
	QueueName string         `json:"queueName"`
	Data      map[string]any `json:"data,omitempty"`
	Opts      *JobOpts       `json:"opts,omitempty"`
	Children  []*FlowJob     `json:"children"`
}

// ExtraJobData adds run-scoped fields to an update job's payload.
type ExtraJobData func(key NodeKey, update NodeUpdate) map[string]any

func newNodeJob(key NodeKey, queue string) *FlowJob {
	return &FlowJob{
		Name:      key,
		QueueName: queue,
		Opts:      &JobOpts{JobID: key},
		Children:  []*FlowJob{},
	}
}

// ref returns j without its children.
func (j *FlowJob) ref() *FlowJob {
	return &FlowJob{
		Name:      j.Name,
		QueueName: j.QueueName,
		Data:      j.Data,
		Opts:      j.Opts,
		Children:  []*FlowJob{},
	}
}

// linkChildren appends a reference to the job of every dependency keep
// accepts. An accepted dependency without a job is reported, not linked.
func linkChildren(job *FlowJob, key NodeKey, deps []NodeKey, jobs map[NodeKey]*FlowJob, keep func(NodeKey) bool) []error {
	var errs []error
	for _, dep := range deps {
		if !keep(dep) {
			continue
		}
		child, ok := jobs[dep]
		if !ok {
			errs = append(errs, Errorf(ErrMissingJob, "%s -> %s", dep, key))
			continue
		}
		job.Children = append(job.Children, child.ref())
	}
	return errs
}

// FullFlow returns one job per node; each job's children are its direct
// dependencies.
func (g *Graph) FullFlow(d FlowDetails) (*FlowJob, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	return g.buildFlow(d, g.hashes.Keys(), func(NodeKey) bool { return true }), nil
}

// Flow returns the subgraph made of start and its upstream (Up) or downstream
// (Down) closure. Edges leaving the subgraph are dropped.
func (g *Graph) Flow(start NodeKey, dir Direction, d FlowDetails) (*FlowJob, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	if _, ok := g.hashes[start]; !ok {
		return nil, Errorf(ErrUnknownNode, "%q", start)
	}
	var stream []NodeKey
	switch dir {
	case Up:
		stream = g.topo.upstream(start)
	case Down:
		stream = g.topo.downstream(start)
	default:
		return nil, fmt.Errorf("invalid direction %q", dir)
	}

	included := map[NodeKey]struct{}{start: {}}
	keys := []NodeKey{start}
	for _, k := range stream {
		if _, ok := g.hashes[k]; !ok {
			continue
		}
		included[k] = struct{}{}
		keys = append(keys, k)
	}
	return g.buildFlow(d, keys, func(k NodeKey) bool {
		_, ok := included[k]
		return ok
	}), nil
}

func (g *Graph) buildFlow(d FlowDetails, keys []NodeKey, keep func(NodeKey) bool) *FlowJob {
	flow := &FlowJob{Name: d.Name, QueueName: d.FlowQueue, Children: []*FlowJob{}}
	jobs := make(map[NodeKey]*FlowJob, len(keys))
	for _, k := range keys {
		jobs[k] = newNodeJob(k, d.NodeQueue)
	}
	// Carried-forward dependencies may have no record, hence no job.
	linked := func(k NodeKey) bool {
		_, ok := jobs[k]
		return ok && keep(k)
	}
	for _, k := range g.topo.ordered(keys) {
		job := jobs[k]
		linkChildren(job, k, g.hashes[k].Dependencies(), jobs, linked)
		flow.Children = append(flow.Children, job)
	}
	return flow
}

// UpdateFlow returns one job per classified node. Each payload holds
// {"update": NodeUpdate} plus whatever extra returns. A DELETED job has no
// children; every other job waits only on dependencies that are classified
// too.
//
// Every classified node gets a job, so a classified dependency always
// resolves. Should one not, it is dropped from the tree and reported through
// the returned error, which wraps ErrMissingJob; the tree is usable either way.
func (g *Graph) UpdateFlow(d FlowDetails, extra ExtraJobData) (*FlowJob, error) {
	if err := g.state(); err != nil {
		return nil, err
	}

	keys := make([]NodeKey, 0, len(g.updates))
	for k := range g.updates {
		keys = append(keys, k)
	}
	keys = g.topo.ordered(keys)

	jobs := make(map[NodeKey]*FlowJob, len(keys))
	for _, k := range keys {
		u := g.updates[k]
		job := newNodeJob(k, d.NodeQueue)
		job.Data = map[string]any{}
		if extra != nil {
			for field, v := range extra(k, u) {
				job.Data[field] = v
			}
		}
		job.Data["update"] = u
		jobs[k] = job
	}

	var errs []error
	flow := &FlowJob{Name: d.Name, QueueName: d.FlowQueue, Children: []*FlowJob{}}
	for _, k := range keys {
		job := jobs[k]
		flow.Children = append(flow.Children, job)
		if g.updates[k].Kind == UpdateDeleted {
			continue
		}
		record, ok := g.hashes[k]
		if !ok {
			record, ok = g.previous[k]
		}
		if !ok {
			continue
		}
		missing := linkChildren(job, k, record.Dependencies(), jobs, func(dep NodeKey) bool {
			_, changed := g.updates[dep]
			return changed
		})
		for _, err := range missing {
			g.log.Error("dependency missing from update flow", "node", k, "err", err)
		}
		errs = append(errs, missing...)
	}
	return flow, errors.Join(errs...)
}
