package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveJob(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues("video", "ACTIVE"))
	ObserveJob("video", "ACTIVE", 3*time.Second)
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues("video", "ACTIVE")); got != before+1 {
		t.Errorf("jobs_total = %v, want %v", got, before+1)
	}
	if n := testutil.CollectAndCount(JobDuration); n == 0 {
		t.Error("job duration histogram has no series")
	}
}

func TestAddUploadedAndPlayback(t *testing.T) {
	before := testutil.ToFloat64(ObjectsUploaded.WithLabelValues("ad"))
	AddUploaded("ad", 4)
	if got := testutil.ToFloat64(ObjectsUploaded.WithLabelValues("ad")); got != before+4 {
		t.Errorf("objects_uploaded_total = %v, want %v", got, before+4)
	}

	pb := testutil.ToFloat64(PlaybackResolutions.WithLabelValues("missing"))
	IncPlayback("missing")
	if got := testutil.ToFloat64(PlaybackResolutions.WithLabelValues("missing")); got != pb+1 {
		t.Errorf("playback_resolutions_total = %v, want %v", got, pb+1)
	}
}
