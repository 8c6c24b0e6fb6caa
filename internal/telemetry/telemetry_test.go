package telemetry

import (
	"testing"
	"time"
)

func TestCollectorTotals(t *testing.T) {
	c := NewCollector(true, 0)
	defer c.Shutdown()

	c.Counter(TasksDispatched, 1, map[string]string{"lane": "1"})
	c.Counter(TasksDispatched, 1, map[string]string{"lane": "2"})
	c.Gauge(TasksActive, 2, nil)
	c.Gauge(TasksActive, 1, nil)
	c.Timer(TaskDuration, 1500*time.Millisecond, nil)

	if got := c.Total(TasksDispatched); got != 2 {
		t.Fatalf("expected 2 dispatched, got %v", got)
	}
	if got := c.Last(TasksActive); got != 1 {
		t.Fatalf("expected last gauge 1, got %v", got)
	}
	if got := c.Total(TaskDuration); got != 1500 {
		t.Fatalf("expected 1500ms, got %v", got)
	}
	if got := len(c.Metrics()); got != 5 {
		t.Fatalf("expected 5 buffered metrics, got %d", got)
	}

	c.Flush()
	if len(c.Metrics()) != 0 {
		t.Fatalf("flush should clear the buffer")
	}
	if c.Total(TasksDispatched) != 2 {
		t.Fatalf("totals must survive a flush")
	}
}

func TestDisabledCollector(t *testing.T) {
	c := NewCollector(false, time.Second)
	defer c.Shutdown()
	c.Counter(TasksFailed, 1, nil)
	if c.Total(TasksFailed) != 0 || len(c.Metrics()) != 0 {
		t.Fatalf("disabled collector must not record")
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Counter(TasksFailed, 1, nil)
}

func TestTimerScope(t *testing.T) {
	c := NewCollector(true, 0)
	defer c.Shutdown()
	scope := c.StartTimer(TaskDuration, map[string]string{"task_id": "1"})
	time.Sleep(5 * time.Millisecond)
	if d := scope.End(); d < 5*time.Millisecond {
		t.Fatalf("expected at least 5ms, got %s", d)
	}
	m := c.Metrics()
	if len(m) != 1 || m[0].Unit != "ms" || m[0].Labels["task_id"] != "1" {
		t.Fatalf("unexpected timer metric: %+v", m)
	}
}

func TestPeriodicFlush(t *testing.T) {
	c := NewCollector(true, 10*time.Millisecond)
	defer c.Shutdown()
	c.Counter(TasksDispatched, 1, nil)
	deadline := time.Now().Add(2 * time.Second)
	for len(c.Metrics()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("metrics were never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
