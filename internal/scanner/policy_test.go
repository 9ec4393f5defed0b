package scanner

import (
	"context"
	"testing"
	"time"
)

type fakeScanner struct {
	name    string
	results []Result
	calls   int
}

func (f *fakeScanner) Name() string { return f.name }

func (f *fakeScanner) Scan(_ context.Context, _ string, _ int64) Result {
	r := f.results[f.calls]
	if f.calls < len(f.results)-1 {
		f.calls++
	}
	return r
}

func TestRunWithRetrySucceedsFirstTry(t *testing.T) {
	s := &fakeScanner{name: "fake", results: []Result{{Verdict: Clean}}}
	policy := TimeoutPolicy{RetryCount: 2}

	got := RunWithRetry(context.Background(), s, "/f", 10, policy, nil)
	if got.Verdict != Clean {
		t.Errorf("expected Clean, got %s", got.Verdict)
	}
	if s.calls != 0 {
		t.Errorf("expected a single call, calls stayed at index %d", s.calls)
	}
}

func TestRunWithRetryRecoversAfterTimeout(t *testing.T) {
	s := &fakeScanner{name: "fake", results: []Result{{Verdict: Timeout}, {Verdict: Clean}}}
	policy := TimeoutPolicy{RetryCount: 2, RetryWait: time.Millisecond}

	got := RunWithRetry(context.Background(), s, "/f", 10, policy, nil)
	if got.Verdict != Clean {
		t.Errorf("expected Clean after retry, got %s", got.Verdict)
	}
}

func TestRunWithRetryExhaustsToTimeout(t *testing.T) {
	s := &fakeScanner{name: "fake", results: []Result{{Verdict: Timeout}}}
	policy := TimeoutPolicy{RetryCount: 1, RetryWait: time.Millisecond}

	got := RunWithRetry(context.Background(), s, "/f", 10, policy, nil)
	if got.Verdict != Timeout {
		t.Errorf("expected Timeout after exhausting retries, got %s", got.Verdict)
	}
}

func TestTimeoutPolicyComputesBaseAndPerByte(t *testing.T) {
	p := TimeoutPolicy{Base: time.Second, PerByte: time.Millisecond}
	got := p.Timeout(1000)
	want := time.Second + 1000*time.Millisecond
	if got != want {
		t.Errorf("Timeout(1000) = %v, want %v", got, want)
	}
}
