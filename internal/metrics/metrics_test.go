package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheLookup(t *testing.T) {
	before := testutil.ToFloat64(CacheLookups.WithLabelValues("memory", "hit"))
	RecordCacheLookup("memory", true)
	if got := testutil.ToFloat64(CacheLookups.WithLabelValues("memory", "hit")); got != before+1 {
		t.Errorf("hit counter = %v, want %v", got, before+1)
	}
}

func TestRecordKeywordBuild(t *testing.T) {
	before := testutil.ToFloat64(KeywordBuilds.WithLabelValues("error"))
	RecordKeywordBuild(false)
	if got := testutil.ToFloat64(KeywordBuilds.WithLabelValues("error")); got != before+1 {
		t.Errorf("error counter = %v, want %v", got, before+1)
	}
}
