// Package service runs workers and broadcasts their progress.
//
// The Registry owns at most one Job per job type. Start is attach-or-create:
// while a job of the type is queued or running every caller gets the same
// *Job, and only once it terminated a new worker can be launched.
//
// A Job owns one Runner, the process adapter. The Runner reads stdout and
// stderr on one goroutine each, parses every line with lineproto and passes
// the event to the Job, which numbers it, appends it to the history and fans
// it out through a broadcast.Channel. When the process exits the Runner
// emits exactly one Terminal event derived from the exit code:
//
//	exit 0                      -> Completed
//	exit != 0 after Cancel      -> Cancelled
//	exit != 0 otherwise         -> Failed{detail: "exit code N"}
//
// The outcome is fixed when the process exits. The readers then get
// outputGrace to drain the pipes, processes the worker left running with the
// pipes open are killed with its process group after that.
//
// Data flow:
//
//	Registry              Job{type}                 Runner{cmd}
//	   |                     |                          |
//	Start ---- launch ------>| StartRunner ------------>| exec.Cmd.Start
//	   |                     |<---- publish(event) -----| stdout/stderr readers
//	   |                     |---> broadcast.Channel    |
//	Cancel ----------------->| Cancel ----------------->| SIGTERM to process group
//	   |                     |<---- Terminal -----------| cmd.Wait
//
// Terminated jobs stay queryable until Registry.Sweep evicts them after the
// retention window; the Sweeper calls it periodically.
//
// Lock order is Registry, Job, broadcast.Channel. Observers run with the Job
// locked.
package service
