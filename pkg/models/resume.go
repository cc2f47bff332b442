package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResumeTask asks the orchestrator to re-enter an execution at a step order.
type ResumeTask struct {
	ExecutionID string    `json:"execution_id"`
	StepOrder   int       `json:"step_order"`
	ResumeAt    time.Time `json:"resume_at"`
}

// Key is the stable identity of the task; scheduling the same key twice keeps one entry.
func (t ResumeTask) Key() string {
	return t.ExecutionID + "#" + strconv.Itoa(t.StepOrder)
}

// ParseResumeKey reverses Key.
func ParseResumeKey(key string) (string, int, error) {
	idx := strings.LastIndex(key, "#")
	if idx <= 0 {
		return "", 0, fmt.Errorf("malformed resume key %q", key)
	}

	order, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed resume key %q: %w", key, err)
	}

	return key[:idx], order, nil
}
