package queue

import (
	"testing"

	"github.com/cwygoda/haul/internal/domain"
)

func TestRetryPolicy_Decide(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
		job    domain.Job
		kind   domain.ErrorKind
		want   Decision
	}{
		{"network within budget", RetryPolicy{Attempts: 2}, domain.Job{RetryCount: 1}, domain.KindNetwork, Decision{Retry: true}},
		{"network exhausted", RetryPolicy{Attempts: 2}, domain.Job{RetryCount: 2}, domain.KindNetwork, Decision{}},
		{"zero attempts", RetryPolicy{}, domain.Job{}, domain.KindNetwork, Decision{}},
		{"storage alerts", RetryPolicy{Attempts: 1}, domain.Job{}, domain.KindStorage, Decision{Retry: true, Alert: true}},
		{"storage exhausted still alerts", RetryPolicy{Attempts: 1}, domain.Job{RetryCount: 1}, domain.KindStorage, Decision{Alert: true}},
		{"unavailable never retries", RetryPolicy{Attempts: 5}, domain.Job{}, domain.KindBackendUnavailable, Decision{Alert: true}},
		{"resolution is permanent", RetryPolicy{Attempts: 5}, domain.Job{}, domain.KindResolution, Decision{}},
		{"resolution opt-in", RetryPolicy{Attempts: 5, RetryResolution: true}, domain.Job{}, domain.KindResolution, Decision{Retry: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Decide(&tt.job, tt.kind); got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPolicyFrom(t *testing.T) {
	p := PolicyFrom(domain.Settings{RetryAttempts: 3, RetryResolutionErrors: true})
	if p.Attempts != 3 || !p.RetryResolution {
		t.Errorf("PolicyFrom() = %+v", p)
	}
}
