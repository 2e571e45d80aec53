package monitoring

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*Alert
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Send(alert *Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func newTestAlertManager() (*AlertManager, *recordingNotifier) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	am := NewAlertManager(logger, 0)
	notifier := &recordingNotifier{}
	am.AddNotifier(notifier)
	return am, notifier
}

func TestAlertManagerTriggersOncePerActiveAlert(t *testing.T) {
	am, notifier := newTestAlertManager()
	defer am.Stop()

	require.True(t, am.UpdateRuleCondition(RuleRateLimited, func() bool { return true }))

	am.EvaluateNow()
	am.EvaluateNow()

	assert.Equal(t, 1, notifier.count())
	active := am.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, AlertTypeRateLimited, active[0].Type)
}

func TestAlertManagerResolvesWhenConditionClears(t *testing.T) {
	am, notifier := newTestAlertManager()
	defer am.Stop()

	var firing atomic.Bool
	firing.Store(true)
	am.UpdateRuleCondition(RuleMutationFailures, firing.Load)

	am.EvaluateNow()
	assert.Len(t, am.GetActiveAlerts(), 1)

	firing.Store(false)
	am.EvaluateNow()
	assert.Empty(t, am.GetActiveAlerts())

	firing.Store(true)
	am.EvaluateNow()
	assert.Len(t, am.GetActiveAlerts(), 1)
	assert.Equal(t, 2, notifier.count())
}

func TestUpdateRuleConditionUnknownRule(t *testing.T) {
	am, _ := newTestAlertManager()
	defer am.Stop()

	assert.False(t, am.UpdateRuleCondition("no such rule", func() bool { return true }))
}

func TestDeltaAbove(t *testing.T) {
	var counter atomic.Uint64
	condition := DeltaAbove(counter.Load, 2)

	assert.False(t, condition())

	counter.Add(2)
	assert.False(t, condition())

	counter.Add(3)
	assert.True(t, condition())

	// growth is measured from the previous evaluation
	assert.False(t, condition())
}
