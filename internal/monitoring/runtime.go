package monitoring

import (
	"strconv"
	"time"
)

// RuntimeMetrics records what the render and scheduling core does. A nil
// *RuntimeMetrics is valid and records nothing.
type RuntimeMetrics struct {
	collector *MetricsCollector
}

// NewRuntimeMetrics creates runtime metrics on top of collector.
func NewRuntimeMetrics(collector *MetricsCollector) *RuntimeMetrics {
	return &RuntimeMetrics{collector: collector}
}

// Collector returns the underlying collector.
func (rm *RuntimeMetrics) Collector() *MetricsCollector {
	if rm == nil {
		return nil
	}
	return rm.collector
}

// PatchesApplied counts patches applied to the host tree.
func (rm *RuntimeMetrics) PatchesApplied(n int) {
	if rm == nil || n == 0 {
		return
	}
	rm.collector.CounterAdd("patches_applied_total", int64(n), nil)
}

// Redraw counts subtrees rebuilt from scratch.
func (rm *RuntimeMetrics) Redraw() {
	if rm == nil {
		return
	}
	rm.collector.Counter("redraws_total", nil)
}

// RenderDuration records how long one view-diff-apply cycle took.
func (rm *RuntimeMetrics) RenderDuration(d time.Duration) {
	if rm == nil {
		return
	}
	rm.collector.Histogram("render_duration_seconds", d.Seconds(), nil)
}

// ProcessSpawned counts spawned processes and tracks the live count.
func (rm *RuntimeMetrics) ProcessSpawned(live int) {
	if rm == nil {
		return
	}
	rm.collector.Counter("processes_spawned_total", nil)
	rm.collector.Gauge("processes_live", float64(live), nil)
}

// ProcessExited counts processes that were killed or ran out of work.
func (rm *RuntimeMetrics) ProcessExited(reason string, live int) {
	if rm == nil {
		return
	}
	rm.collector.Counter("processes_exited_total", map[string]string{"reason": reason})
	rm.collector.Gauge("processes_live", float64(live), nil)
}

// Drain records the number of interpreter steps one drain loop ran.
func (rm *RuntimeMetrics) Drain(steps int) {
	if rm == nil {
		return
	}
	rm.collector.CounterAdd("scheduler_steps_total", int64(steps), nil)
	rm.collector.Counter("scheduler_drains_total", nil)
}

// MessageDelivered counts messages handed to the application update.
func (rm *RuntimeMetrics) MessageDelivered(sync bool) {
	if rm == nil {
		return
	}
	rm.collector.Counter("messages_delivered_total", map[string]string{"sync": strconv.FormatBool(sync)})
}

// EventDropped counts host events whose payload failed to decode.
func (rm *RuntimeMetrics) EventDropped(eventType string) {
	if rm == nil {
		return
	}
	rm.collector.Counter("events_dropped_total", map[string]string{"event": eventType})
}

// PortSend counts values sent through incoming ports.
func (rm *RuntimeMetrics) PortSend(port string, ok bool) {
	if rm == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "rejected"
	}
	rm.collector.Counter("port_sends_total", map[string]string{"port": port, "status": status})
}

// WebSocketConnection tracks WebSocket connections.
func (rm *RuntimeMetrics) WebSocketConnection(action string) {
	if rm == nil {
		return
	}
	rm.collector.Counter("websocket_connections_total", map[string]string{
		"action": action, // "opened", "closed", "rejected"
	})
}

// WebSocketMessage tracks WebSocket messages.
func (rm *RuntimeMetrics) WebSocketMessage(direction, messageType string) {
	if rm == nil {
		return
	}
	rm.collector.Counter("websocket_messages_total", map[string]string{
		"direction": direction,
		"type":      messageType,
	})
}

// FileWatcherEvent tracks file watcher events.
func (rm *RuntimeMetrics) FileWatcherEvent(eventType string) {
	if rm == nil {
		return
	}
	rm.collector.Counter("file_watcher_events_total", map[string]string{"type": eventType})
}

// StoreOperation tracks store commands.
func (rm *RuntimeMetrics) StoreOperation(op string, ok bool) {
	if rm == nil {
		return
	}
	rm.collector.Counter("store_operations_total", map[string]string{
		"op":      op,
		"success": strconv.FormatBool(ok),
	})
}

// ErrorOccurred tracks errors by category and component.
func (rm *RuntimeMetrics) ErrorOccurred(category, component string) {
	if rm == nil {
		return
	}
	rm.collector.Counter("errors_total", map[string]string{
		"category":  category,
		"component": component,
	})
}

// HTTPRequest tracks served requests by route and status code.
func (rm *RuntimeMetrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if rm == nil {
		return
	}
	labels := map[string]string{"method": method, "route": route, "status": strconv.Itoa(status)}
	rm.collector.Counter("http_requests_total", labels)
	rm.collector.Histogram("http_request_duration_seconds", d.Seconds(), map[string]string{"route": route})
}
