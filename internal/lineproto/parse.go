// Package lineproto classifies lines printed by worker processes.
//
// Workers speak an informal text protocol on stdout:
//
//	WAITING:<seconds>
//	[<current>/<total>] (<percent>%) <free text>
//	__ERROR__ <message>
//	<any other line>
//
// and every line on stderr is a non fatal diagnostic. Outcome of a job is
// never derived from a line, only from the exit status of the worker.
package lineproto

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/jobcast/internal/model"
)

const (
	waitingPrefix = "WAITING:"
	errorSentinel = "__ERROR__"
)

var progressRx = regexp.MustCompile(`^\[([^/\]]*)/([^\]]*)\] \(([^)]*)%\)(?:\s|$)`)

// Parse classifies one line of worker stdout. It never fails, lines which do
// not match any pattern, including ones with malformed numbers, become Log
// events.
func Parse(line string) model.Event {
	line = strings.TrimRight(line, "\r")

	if rest, ok := strings.CutPrefix(line, waitingPrefix); ok {
		seconds, err := atoi(rest)
		if err != nil {
			return model.Log(line)
		}
		return model.Waiting(seconds)
	}

	if rest, ok := strings.CutPrefix(line, errorSentinel); ok {
		return model.Error(strings.TrimSpace(rest))
	}

	if m := progressRx.FindStringSubmatch(line); m != nil {
		current, err1 := atoi(m[1])
		total, err2 := atoi(m[2])
		percent, err3 := atoi(m[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return model.Log(line)
		}
		return model.Progress(current, total, percent, line)
	}

	return model.Log(line)
}

// ParseStderr classifies one line of worker stderr.
func ParseStderr(line string) model.Event {
	return model.Error(strings.TrimRight(line, "\r"))
}

var errNegative = errors.New("negative number")

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err == nil && n < 0 {
		err = errNegative
	}
	return n, err
}
