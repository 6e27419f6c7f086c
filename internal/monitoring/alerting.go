package monitoring

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/tally/internal/logging"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert is a rule whose condition held.
type Alert struct {
	Name      string            `json:"name"`
	Level     AlertLevel        `json:"level"`
	Message   string            `json:"message"`
	Metric    string            `json:"metric"`
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	Threshold float64           `json:"threshold"`
	Active    bool              `json:"active"`
	Count     int               `json:"count"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
}

// AlertRule compares the sum of a metric against a threshold.
type AlertRule struct {
	Name   string `json:"name"`
	Metric string `json:"metric"`
	// Labels narrow the series that are summed.
	Labels map[string]string `json:"labels,omitempty"`
	// Condition is one of gt, gte, lt, lte, eq, ne.
	Condition string  `json:"condition"`
	Threshold float64 `json:"threshold"`
	// Delta compares the increase since the previous evaluation instead of
	// the value itself, so counters can resolve.
	Delta   bool       `json:"delta"`
	Level   AlertLevel `json:"level"`
	Message string     `json:"message"`
	// Cooldown keeps a resolved alert from firing again too soon.
	Cooldown time.Duration `json:"cooldown"`
}

// AlertChannel delivers fired and resolved alerts.
type AlertChannel interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager evaluates rules over a MetricsCollector.
type AlertManager struct {
	collector *MetricsCollector
	rules     []*AlertRule
	alerts    map[string]*Alert
	resolved  map[string]time.Time
	previous  map[string]float64
	channels  []AlertChannel
	logger    logging.Logger
	mutex     sync.RWMutex
	now       func() time.Time
}

// NewAlertManager creates an alert manager reading from collector.
func NewAlertManager(collector *MetricsCollector, logger logging.Logger) *AlertManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AlertManager{
		collector: collector,
		alerts:    make(map[string]*Alert),
		resolved:  make(map[string]time.Time),
		previous:  make(map[string]float64),
		logger:    logger.WithComponent("alert_manager"),
		now:       time.Now,
	}
}

// AddRule adds an alert rule, replacing one with the same name.
func (am *AlertManager) AddRule(rule *AlertRule) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.rules = slices.DeleteFunc(am.rules, func(r *AlertRule) bool { return r.Name == rule.Name })
	am.rules = append(am.rules, rule)
}

// AddChannel adds an alert delivery channel.
func (am *AlertManager) AddChannel(channel AlertChannel) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.channels = append(am.channels, channel)
}

// Evaluate checks every rule once.
func (am *AlertManager) Evaluate(ctx context.Context) {
	am.mutex.Lock()
	var notify []Alert
	now := am.now()
	for _, rule := range am.rules {
		value := am.collector.Sum(rule.Metric, rule.Labels)
		if rule.Delta {
			value, am.previous[rule.Name] = value-am.previous[rule.Name], value
		}
		alert, active := am.alerts[rule.Name]
		met := evaluateCondition(rule.Condition, value, rule.Threshold)

		switch {
		case met && active:
			alert.Count++
			alert.Value = value
			alert.LastSeen = now
		case met:
			if at, ok := am.resolved[rule.Name]; ok && now.Sub(at) < rule.Cooldown {
				continue
			}
			alert = &Alert{
				Name:      rule.Name,
				Level:     rule.Level,
				Message:   rule.Message,
				Metric:    rule.Metric,
				Labels:    rule.Labels,
				Value:     value,
				Threshold: rule.Threshold,
				Active:    true,
				Count:     1,
				FirstSeen: now,
				LastSeen:  now,
			}
			am.alerts[rule.Name] = alert
			notify = append(notify, *alert)
		case active:
			delete(am.alerts, rule.Name)
			am.resolved[rule.Name] = now
			done := *alert
			done.Active = false
			done.Value = value
			done.LastSeen = now
			done.Message = "RESOLVED: " + alert.Message
			notify = append(notify, done)
		}
	}
	channels := slices.Clone(am.channels)
	am.mutex.Unlock()

	for _, alert := range notify {
		for _, ch := range channels {
			if err := ch.Send(ctx, alert); err != nil {
				am.logger.Error(ctx, err, "Failed to send alert", "channel", ch.Name(), "alert_name", alert.Name)
			}
		}
	}
}

// Run evaluates the rules every interval until ctx is done.
func (am *AlertManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.Evaluate(ctx)
		}
	}
}

// ActiveAlerts returns the firing alerts ordered by name.
func (am *AlertManager) ActiveAlerts() []Alert {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	alerts := make([]Alert, 0, len(am.alerts))
	for _, alert := range am.alerts {
		alerts = append(alerts, *alert)
	}
	slices.SortFunc(alerts, func(a, b Alert) int { return strings.Compare(a.Name, b.Name) })
	return alerts
}

// HealthCheck reports firing alerts: degraded for warnings, unhealthy for
// critical ones.
func (am *AlertManager) HealthCheck() HealthChecker {
	return NewHealthCheckFunc("alerts", false, func(ctx context.Context) HealthCheck {
		alerts := am.ActiveAlerts()
		status := HealthStatusHealthy
		names := make([]string, 0, len(alerts))
		for _, a := range alerts {
			names = append(names, a.Name)
			switch {
			case a.Level == AlertLevelCritical:
				status = HealthStatusUnhealthy
			case a.Level == AlertLevelWarning && status == HealthStatusHealthy:
				status = HealthStatusDegraded
			}
		}
		message := "No active alerts"
		if len(alerts) > 0 {
			message = fmt.Sprintf("%d active: %s", len(alerts), strings.Join(names, ", "))
		}
		return HealthCheck{
			Status:   status,
			Message:  message,
			Metadata: map[string]interface{}{"active": len(alerts)},
		}
	})
}

func evaluateCondition(condition string, value, threshold float64) bool {
	switch condition {
	case "gt", ">":
		return value > threshold
	case "gte", ">=":
		return value >= threshold
	case "lt", "<":
		return value < threshold
	case "lte", "<=":
		return value <= threshold
	case "eq", "==":
		return value == threshold
	case "ne", "!=":
		return value != threshold
	default:
		return false
	}
}

// LogChannel writes alerts to a logger.
type LogChannel struct {
	logger logging.Logger
}

// NewLogChannel creates a log-based alert channel.
func NewLogChannel(logger logging.Logger) *LogChannel {
	return &LogChannel{logger: logger.WithComponent("alerts")}
}

// Send implements AlertChannel.
func (lc *LogChannel) Send(ctx context.Context, alert Alert) error {
	fields := []interface{}{"alert_name", alert.Name, "metric", alert.Metric, "value", alert.Value, "threshold", alert.Threshold}
	switch {
	case !alert.Active:
		lc.logger.Info(ctx, alert.Message, fields...)
	case alert.Level == AlertLevelCritical:
		lc.logger.Error(ctx, nil, alert.Message, fields...)
	case alert.Level == AlertLevelWarning:
		lc.logger.Warn(ctx, nil, alert.Message, fields...)
	default:
		lc.logger.Info(ctx, alert.Message, fields...)
	}
	return nil
}

// Name implements AlertChannel.
func (lc *LogChannel) Name() string {
	return "log"
}

// DefaultAlertRules watch the failure counters RuntimeMetrics records.
func DefaultAlertRules() []*AlertRule {
	return []*AlertRule{
		{
			Name:      "store_failures",
			Metric:    "store_operations_total",
			Labels:    map[string]string{"success": "false"},
			Condition: "gt",
			Threshold: 0,
			Delta:     true,
			Level:     AlertLevelWarning,
			Message:   "Ledger store operations are failing",
			Cooldown:  5 * time.Minute,
		},
		{
			Name:      "events_dropped",
			Metric:    "events_dropped_total",
			Condition: "gt",
			Threshold: 100,
			Delta:     true,
			Level:     AlertLevelWarning,
			Message:   "Many browser events could not be decoded",
			Cooldown:  10 * time.Minute,
		},
		{
			Name:      "port_rejections",
			Metric:    "port_sends_total",
			Labels:    map[string]string{"status": "rejected"},
			Condition: "gt",
			Threshold: 50,
			Delta:     true,
			Level:     AlertLevelWarning,
			Message:   "Many values sent to ports were rejected",
			Cooldown:  10 * time.Minute,
		},
		{
			Name:      "process_leak",
			Metric:    "processes_live",
			Condition: "gt",
			Threshold: 10000,
			Level:     AlertLevelCritical,
			Message:   "Scheduler processes are piling up",
			Cooldown:  10 * time.Minute,
		},
	}
}
