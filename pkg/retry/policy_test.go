package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/retry"
	"github.com/stretchr/testify/assert"
)

func TestPolicy_OnStepFailure(t *testing.T) {
	policy := retry.Default()
	step := models.WorkflowStep{ID: "s1"}

	tests := []struct {
		name       string
		retryCount int
		want       retry.Decision
	}{
		{"first failure", 0, retry.Retry},
		{"second failure", 1, retry.Retry},
		{"third failure", 2, retry.Retry},
		{"retries exhausted", 3, retry.GiveUp},
		{"beyond maximum", 7, retry.GiveUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.OnStepFailure(&models.WorkflowStepExecution{RetryCount: tt.retryCount}, step)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicy_RetryLoopIsBounded(t *testing.T) {
	policy := retry.New(2, 0)
	stepExecution := &models.WorkflowStepExecution{}
	invocations := 0

	for {
		invocations++

		if policy.OnStepFailure(stepExecution, models.WorkflowStep{}) == retry.GiveUp {
			break
		}

		stepExecution.RetryCount++
	}

	assert.Equal(t, 2, stepExecution.RetryCount)
	assert.Equal(t, policy.MaxAttempts(), invocations)
}

func TestPolicy_ZeroRetries(t *testing.T) {
	policy := retry.New(-1, -time.Second)

	assert.Equal(t, 0, policy.MaxRetries)
	assert.Equal(t, time.Duration(0), policy.Delay)
	assert.Equal(t, retry.GiveUp, policy.OnStepFailure(&models.WorkflowStepExecution{}, models.WorkflowStep{}))
}

func TestPolicy_AfterGiveUp(t *testing.T) {
	policy := retry.Default()

	assert.Equal(t, retry.ContinueExecution, policy.AfterGiveUp(models.WorkflowStep{ContinueOnError: true}))
	assert.Equal(t, retry.FailExecution, policy.AfterGiveUp(models.WorkflowStep{}))
}

func TestPolicy_Wait(t *testing.T) {
	assert.NoError(t, retry.New(1, 0).Wait(context.Background()))
	assert.NoError(t, retry.New(1, 5*time.Millisecond).Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.New(1, time.Hour).Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "retry", retry.Retry.String())
	assert.Equal(t, "give_up", retry.GiveUp.String())
}
