// Package queue hands emitted flows to a Redis-backed worker runtime.
//
// Submit stores every job of a flow and enqueues the jobs that have no
// children. Workers Pop a ready job, run it and call Complete, which enqueues
// each parent whose children have all completed. A job therefore never starts
// before its children. The flow itself is a root job with ID "flow:{flowID}"
// that waits on every node job.
//
// Redis key schema (prefix defaults to "promptgraph"):
//
//	{prefix}:flow:{flowID}:job:{jobID}      JSON job
//	{prefix}:flow:{flowID}:pending:{jobID}  number of unfinished children
//	{prefix}:flow:{flowID}:parents:{jobID}  set of parent job IDs
//	{prefix}:flow:{flowID}:done             set of completed job IDs
//	{prefix}:queue:{queueName}              list of ready jobs (LPUSH/BRPOP)
package queue
