package model

import (
	"os"
)

// JobType identifies a class of background work. At most one job per type
// may be queued or running at any time.
type JobType string

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is one of the absorbing states.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Command is a launch spec of a worker process.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the environment of the jobcast process
	Env []string
}

// Command converts a configured job into a launch spec. $VAR and ${VAR}
// references in env values are expanded from the current environment.
func (j JobSpec) Command() Command {
	env := make([]string, 0, len(j.Env))
	for k, v := range j.Env {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return Command{
		Path: j.Path,
		Args: append([]string(nil), j.Args...),
		Dir:  j.Dir,
		Env:  env,
	}
}
