package scheduler

import (
	"time"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// EventEmitter is the subset of *logging.EventSink the fleet monitor
// needs, kept as an interface so the scheduler package never imports
// a concrete sink and stays trivially fakeable in tests.
type EventEmitter interface {
	Emit(now time.Time, evtType logging.RunEventType, productID string, fields map[string]interface{}) error
}

// FleetMonitor records per-product lifecycle events onto the
// structured event log without executing any work itself — it only
// observes what RunConvergenceLoop is already doing. Grounded on the
// teacher's campaign status reporter, which likewise sits beside the
// orchestration loop and narrates its phase transitions rather than
// driving them.
type FleetMonitor struct {
	sink      EventEmitter
	runID     string
	productID string
}

// NewFleetMonitor returns a monitor that emits onto sink, or a nil
// monitor if sink is nil; all methods are nil-receiver safe so callers
// never need to branch on whether event emission is configured.
func NewFleetMonitor(sink EventEmitter, runID, productID string) *FleetMonitor {
	if sink == nil {
		return nil
	}
	return &FleetMonitor{sink: sink, runID: runID, productID: productID}
}

func (f *FleetMonitor) emit(evtType logging.RunEventType, fields map[string]interface{}) {
	if f == nil || f.sink == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["run_id"] = f.runID
	_ = f.sink.Emit(time.Now(), evtType, f.productID, fields)
}

// started is emitted once, before round 0 runs.
func (f *FleetMonitor) started(mode Mode) {
	f.emit(logging.EventProductStarted, map[string]interface{}{"mode": string(mode)})
}

// roundCompleted is emitted after every round, whether or not that
// round triggers a stop condition.
func (f *FleetMonitor) roundCompleted(round int, progress Progress) {
	f.emit(logging.EventRoundCompleted, map[string]interface{}{
		"round":                  round,
		"missing_required_count": progress.MissingRequiredCount,
		"confidence":             progress.Confidence,
		"validated":              progress.Validated,
	})
}

// finished is emitted once the loop settles on a stop reason.
func (f *FleetMonitor) finished(result RunResult) {
	f.emit(logging.EventProductFinished, map[string]interface{}{
		"round_count": result.RoundCount,
		"stop_reason": string(result.StopReason),
		"complete":    result.Complete,
	})
}

// failed is emitted when a round's RunProductFn returns an error; the
// loop still continues (the round is recorded and counted toward the
// stop conditions) so this is a lifecycle note, not a loop-abort.
func (f *FleetMonitor) failed(round int, err error) {
	f.emit(logging.EventProductFailed, map[string]interface{}{
		"round": round,
		"error": err.Error(),
	})
}
