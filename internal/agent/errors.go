package agent

import (
	"errors"
	"fmt"
)

// ErrNoResponse is returned when the model produced no text.
var ErrNoResponse = errors.New("no response from model")

// AgentError reports a failure in the model layer of a turn.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
