package slackchat

import (
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/fuba/youtube2slackthread/internal/apierr"
)

func TestClassifyPostErr_RateLimited(t *testing.T) {
	err := classifyPostErr(&slack.RateLimitedError{RetryAfter: 2 * time.Second})

	var pf *apierr.PostFailure
	if !errors.As(err, &pf) {
		t.Fatalf("got %v, want *apierr.PostFailure", err)
	}
	if pf.Kind != apierr.PostRateLimited {
		t.Errorf("Kind = %v, want PostRateLimited", pf.Kind)
	}
	if pf.RetryAfter != 2000 {
		t.Errorf("RetryAfter = %d, want 2000", pf.RetryAfter)
	}
	if !pf.Retryable() {
		t.Error("expected rate-limited failure to be retryable")
	}
}

func TestClassifyPostErr_Permanent(t *testing.T) {
	err := classifyPostErr(errors.New("channel_not_found"))

	var pf *apierr.PostFailure
	if !errors.As(err, &pf) {
		t.Fatalf("got %v, want *apierr.PostFailure", err)
	}
	if pf.Kind != apierr.PostPermanent {
		t.Errorf("Kind = %v, want PostPermanent", pf.Kind)
	}
	if pf.Retryable() {
		t.Error("expected permanent failure to not be retryable")
	}
}

func TestClassifyPostErr_Transient(t *testing.T) {
	err := classifyPostErr(errors.New("connection reset by peer"))

	var pf *apierr.PostFailure
	if !errors.As(err, &pf) {
		t.Fatalf("got %v, want *apierr.PostFailure", err)
	}
	if pf.Kind != apierr.PostTransient {
		t.Errorf("Kind = %v, want PostTransient", pf.Kind)
	}
	if !pf.Retryable() {
		t.Error("expected transient failure to be retryable")
	}
}
