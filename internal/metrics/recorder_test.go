package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.RecordScan("alert")
	r.RecordScan("alert")
	r.RecordRejection("adx")
	r.RecordAlert("BTC/USDT", "LONG")
	r.RecordFetchError("unsupported")
	r.RecordSinkError()
	r.RecordCycle(1500 * time.Millisecond)
	r.SetDedupEntries(3)

	if got := testutil.ToFloat64(r.scans.WithLabelValues("alert")); got != 2 {
		t.Errorf("scans = %v", got)
	}
	if got := testutil.ToFloat64(r.rejections.WithLabelValues("adx")); got != 1 {
		t.Errorf("rejections = %v", got)
	}
	if got := testutil.ToFloat64(r.dedupEntries); got != 3 {
		t.Errorf("dedup = %v", got)
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `emacross_alerts_total{side="LONG",symbol="BTC/USDT"} 1`) {
		t.Errorf("exposition lacks alert counter:\n%s", body)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.RecordScan("error")
	r.RecordCycle(time.Second)
	r.SetDedupEntries(1)
}

func TestRecordersAreIndependent(t *testing.T) {
	// Собственный реестр у каждого экземпляра, повторная регистрация не паникует
	a, b := New(), New()
	a.RecordSinkError()
	if testutil.ToFloat64(b.sinkErrors) != 0 {
		t.Error("recorders share state")
	}
}
