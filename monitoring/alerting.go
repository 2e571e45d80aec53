// Package monitoring provides alerting capabilities for the mark status service
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeRateLimited      AlertType = "rate_limited"
	AlertTypeCheckFailures    AlertType = "check_failures"
	AlertTypeLimiterSaturated AlertType = "limiter_saturated"
	AlertTypeMutationFailures AlertType = "mutation_failures"
)

// Rule names used by the default rule set
const (
	RuleRateLimited      = "Status Checks Rate Limited"
	RuleCheckFailures    = "Status Check Failures"
	RuleLimiterSaturated = "Limiter Saturated"
	RuleMutationFailures = "Mutation Failures"
)

// Alert represents an alert
type Alert struct {
	ID          string                 `json:"id"`
	Type        AlertType              `json:"type"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	Labels      map[string]string      `json:"labels"`
	Annotations map[string]interface{} `json:"annotations"`
	Resolved    bool                   `json:"resolved"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	Name        string
	Type        AlertType
	Severity    AlertSeverity
	Condition   func() bool
	Title       string
	Description string
	Labels      map[string]string
	Enabled     bool
}

// Notifier interface for sending alert notifications
type Notifier interface {
	Send(alert *Alert) error
	Name() string
}

// LogNotifier sends alerts to the log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string {
	return "log"
}

func (n *LogNotifier) Send(alert *Alert) error {
	level := logrus.InfoLevel
	switch alert.Severity {
	case SeverityHigh:
		level = logrus.WarnLevel
	case SeverityCritical:
		level = logrus.ErrorLevel
	}

	n.logger.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"alert_type": alert.Type,
		"severity":   alert.Severity,
		"labels":     alert.Labels,
	}).Log(level, fmt.Sprintf("ALERT: %s - %s", alert.Title, alert.Description))

	return nil
}

// AlertManager evaluates alert rules on an interval and notifies on transitions
type AlertManager struct {
	alerts    map[string]*Alert
	mutex     sync.RWMutex
	logger    *logrus.Logger
	rules     []AlertRule
	notifiers []Notifier
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewAlertManager creates an alert manager and starts its evaluation loop.
// An interval <= 0 disables the loop; rules can still be evaluated with EvaluateNow.
func NewAlertManager(logger *logrus.Logger, interval time.Duration) *AlertManager {
	ctx, cancel := context.WithCancel(context.Background())

	am := &AlertManager{
		alerts:    make(map[string]*Alert),
		logger:    logger,
		rules:     getDefaultAlertRules(),
		notifiers: []Notifier{NewLogNotifier(logger)},
		interval:  interval,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if interval > 0 {
		go am.evaluateRules()
	} else {
		close(am.done)
	}

	return am
}

// getDefaultAlertRules returns the default rule set; conditions start disarmed
func getDefaultAlertRules() []AlertRule {
	labels := map[string]string{"service": "markstatus"}
	never := func() bool { return false }

	return []AlertRule{
		{
			Name:        RuleRateLimited,
			Type:        AlertTypeRateLimited,
			Severity:    SeverityHigh,
			Condition:   never,
			Title:       "Status checks are being rate limited",
			Description: "The remote API rejected status checks as too frequent",
			Labels:      labels,
			Enabled:     true,
		},
		{
			Name:        RuleCheckFailures,
			Type:        AlertTypeCheckFailures,
			Severity:    SeverityMedium,
			Condition:   never,
			Title:       "Status checks are failing",
			Description: "Status checks were dropped after network failures",
			Labels:      labels,
			Enabled:     true,
		},
		{
			Name:        RuleLimiterSaturated,
			Type:        AlertTypeLimiterSaturated,
			Severity:    SeverityLow,
			Condition:   never,
			Title:       "Status check limiter saturated",
			Description: "Status checks were repeatedly refused a limiter slot",
			Labels:      labels,
			Enabled:     true,
		},
		{
			Name:        RuleMutationFailures,
			Type:        AlertTypeMutationFailures,
			Severity:    SeverityHigh,
			Condition:   never,
			Title:       "Mark mutations are failing",
			Description: "Mark/unmark requests were reverted after failures",
			Labels:      labels,
			Enabled:     true,
		},
	}
}

// evaluateRules runs the alert evaluation loop
func (am *AlertManager) evaluateRules() {
	defer close(am.done)

	ticker := time.NewTicker(am.interval)
	defer ticker.Stop()

	for {
		select {
		case <-am.ctx.Done():
			return
		case <-ticker.C:
			am.EvaluateNow()
		}
	}
}

// EvaluateNow evaluates all enabled rules once
func (am *AlertManager) EvaluateNow() {
	am.mutex.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mutex.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.Condition() {
			am.triggerAlert(rule)
		} else {
			am.resolveType(rule.Type)
		}
	}
}

// triggerAlert creates and sends an alert unless one of the same type is active
func (am *AlertManager) triggerAlert(rule AlertRule) {
	now := time.Now()
	alert := &Alert{
		ID:          fmt.Sprintf("%s-%d", rule.Type, now.UnixNano()),
		Type:        rule.Type,
		Severity:    rule.Severity,
		Title:       rule.Title,
		Description: rule.Description,
		Timestamp:   now,
		Labels:      rule.Labels,
		Annotations: make(map[string]interface{}),
	}

	am.mutex.Lock()
	for _, existing := range am.alerts {
		if existing.Type == rule.Type && !existing.Resolved {
			am.mutex.Unlock()
			return
		}
	}
	am.alerts[alert.ID] = alert
	notifiers := append([]Notifier(nil), am.notifiers...)
	am.mutex.Unlock()

	for _, notifier := range notifiers {
		if err := notifier.Send(alert); err != nil {
			am.logger.WithError(err).WithField("notifier", notifier.Name()).Error("Failed to send alert notification")
		}
	}
}

// resolveType resolves the active alert of the given type, if any
func (am *AlertManager) resolveType(alertType AlertType) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	for id, alert := range am.alerts {
		if alert.Type == alertType && !alert.Resolved {
			now := time.Now()
			alert.Resolved = true
			alert.ResolvedAt = &now
			am.logger.WithFields(logrus.Fields{
				"alert_id": id,
				"type":     alert.Type,
			}).Info("Alert resolved")
		}
	}
}

// GetActiveAlerts returns all unresolved alerts
func (am *AlertManager) GetActiveAlerts() []*Alert {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var active []*Alert
	for _, alert := range am.alerts {
		if !alert.Resolved {
			active = append(active, alert)
		}
	}
	return active
}

// AddNotifier adds a new notifier
func (am *AlertManager) AddNotifier(notifier Notifier) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.notifiers = append(am.notifiers, notifier)
}

// UpdateRuleCondition updates the condition function for a rule
func (am *AlertManager) UpdateRuleCondition(ruleName string, condition func() bool) bool {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	for i, rule := range am.rules {
		if rule.Name == ruleName {
			am.rules[i].Condition = condition
			return true
		}
	}
	return false
}

// Stop stops the evaluation loop and waits for it to exit
func (am *AlertManager) Stop() {
	am.cancel()
	<-am.done
}

// DeltaAbove returns a condition that fires when a monotonically increasing
// counter grew by more than threshold since the previous evaluation.
func DeltaAbove(read func() uint64, threshold uint64) func() bool {
	var mu sync.Mutex
	last := read()

	return func() bool {
		mu.Lock()
		defer mu.Unlock()

		current := read()
		delta := current - last
		if current < last {
			delta = current
		}
		last = current
		return delta > threshold
	}
}
