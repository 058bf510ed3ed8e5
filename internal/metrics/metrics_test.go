// =============================================================================
// 文件: internal/metrics/metrics_test.go
// 描述: 指标收集器与服务的单元测试
// =============================================================================

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mrcgq/233/internal/dispatcher"
	"github.com/mrcgq/233/internal/ledger"
	"github.com/mrcgq/233/internal/timewait"
)

type stubTimeWait struct{ stats timewait.Stats }

func (s *stubTimeWait) GetStats() timewait.Stats { return s.stats }

type stubLedger struct{ stats ledger.Stats }

func (s *stubLedger) GetStats() ledger.Stats { return s.stats }

type stubDispatcher struct{ stats dispatcher.Stats }

func (s *stubDispatcher) GetStats() dispatcher.Stats { return s.stats }

func newTestServer(t *testing.T) (*Server, *stubTimeWait, *stubDispatcher) {
	t.Helper()

	tw := &stubTimeWait{stats: timewait.Stats{
		Entries:         3,
		PacketsReceived: 42,
		ResponsesSent:   7,
	}}
	lg := &stubLedger{stats: ledger.Stats{
		BytesInFlight:   1200,
		PacketsInFlight: 2,
	}}
	dp := &stubDispatcher{stats: dispatcher.Stats{
		Dispatched: 100,
		LiveHits:   80,
	}}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	srv, err := NewServer(DefaultServerConfig(), tw, lg, dp, log)
	if err != nil {
		t.Fatalf("创建指标服务失败: %v", err)
	}
	return srv, tw, dp
}

func TestCollectorsExposeStats(t *testing.T) {
	srv, _, _ := newTestServer(t)

	families, err := srv.Registry().Gather()
	if err != nil {
		t.Fatalf("采集指标失败: %v", err)
	}

	want := map[string]float64{
		"specter_timewait_entries":                3,
		"specter_timewait_packets_received_total": 42,
		"specter_timewait_responses_sent_total":   7,
		"specter_ledger_bytes_in_flight":          1200,
		"specter_ledger_packets_in_flight":        2,
		"specter_dispatcher_packets_total":        100,
		"specter_dispatcher_live_hits_total":      80,
	}

	got := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				got[fam.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				got[fam.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	for name, value := range want {
		if got[name] != value {
			t.Errorf("指标 %s = %v, 期望 %v", name, got[name], value)
		}
	}
}

func TestCollectorsReflectUpdates(t *testing.T) {
	srv, tw, _ := newTestServer(t)

	tw.stats.Entries = 99

	families, err := srv.Registry().Gather()
	if err != nil {
		t.Fatalf("采集指标失败: %v", err)
	}

	for _, fam := range families {
		if fam.GetName() != "specter_timewait_entries" {
			continue
		}
		if v := fam.GetMetric()[0].GetGauge().GetValue(); v != 99 {
			t.Errorf("更新后的指标值 = %v, 期望 99", v)
		}
		return
	}
	t.Fatal("未找到 specter_timewait_entries 指标")
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("健康检查状态码 = %d, 期望 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("健康检查响应 = %q, 期望包含 ok", rec.Body.String())
	}

	srv.SetHealthy(false)

	rec = httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 503 {
		t.Errorf("不健康时状态码 = %d, 期望 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.handleReadiness(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != 503 {
		t.Errorf("未就绪时状态码 = %d, 期望 503", rec.Code)
	}

	// 存活探针不受健康状态影响
	rec = httptest.NewRecorder()
	srv.handleLiveness(rec, httptest.NewRequest("GET", "/live", nil))
	if rec.Code != 200 {
		t.Errorf("存活探针状态码 = %d, 期望 200", rec.Code)
	}
}

func TestNilProvidersSkipped(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	srv, err := NewServer(DefaultServerConfig(), nil, nil, nil, log)
	if err != nil {
		t.Fatalf("创建指标服务失败: %v", err)
	}

	families, err := srv.Registry().Gather()
	if err != nil {
		t.Fatalf("采集指标失败: %v", err)
	}
	for _, fam := range families {
		if strings.HasPrefix(fam.GetName(), "specter_") {
			t.Errorf("未注册提供者时不应出现业务指标: %s", fam.GetName())
		}
	}
}
