package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		challengesTotal == nil || searchesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(challengesTotal.WithLabelValues("captcha"))
	ObserveChallenge("captcha")
	if got := testutil.ToFloat64(challengesTotal.WithLabelValues("captcha")); got != before+1 {
		t.Errorf("expected captcha counter %f, got %f", before+1, got)
	}

	before = testutil.ToFloat64(listingsTotal.WithLabelValues("raw"))
	ObserveListings("raw", 0)
	ObserveListings("raw", 7)
	if got := testutil.ToFloat64(listingsTotal.WithLabelValues("raw")); got != before+7 {
		t.Errorf("expected raw listings %f, got %f", before+7, got)
	}

	before = testutil.ToFloat64(apiRequestsTotal.WithLabelValues("forbidden"))
	ObserveAPIRequest("forbidden")
	if got := testutil.ToFloat64(apiRequestsTotal.WithLabelValues("forbidden")); got != before+1 {
		t.Errorf("expected forbidden api requests %f, got %f", before+1, got)
	}

	ObserveSearch("live", "ok", 2*time.Second)
	if val := testutil.CollectAndCount(searchDurationSeconds); val <= 0 {
		t.Errorf("expected search duration to be observed, got %d", val)
	}
}
