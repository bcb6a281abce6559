package api

import (
	"testing"

	"whatsapp-inbox-backend/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsTolerateReRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := queue.NewRequestQueueManager(1, 1)
	defer q.Shutdown()

	first := newMetrics(reg, ":81", q)
	second := newMetrics(reg, ":81", q)

	if first.requests != second.requests {
		t.Error("re-registration must hand back the existing request counter")
	}
	if first.duration != second.duration {
		t.Error("re-registration must hand back the existing duration histogram")
	}
	if first.inFlight != second.inFlight {
		t.Error("re-registration must hand back the existing in-flight gauge")
	}
}

func TestNewMetricsWithoutQueue(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry(), ":82", nil)
	if m.queueDepth != nil {
		t.Error("queue depth gauge must stay unset without a queue")
	}
}
