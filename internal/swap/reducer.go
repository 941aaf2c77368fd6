package swap

import (
	"errors"
	"fmt"
)

// ErrAnomaly matches every *AnomalyError.
var ErrAnomaly = errors.New("protocol anomaly")

// AnomalyError reports a status the coordinator should never have produced:
// an off-graph or backward move, an unknown status, or a status that itself
// means the counterparty misbehaved. It is distinct from transient errors and
// is never retried.
type AnomalyError struct {
	SwapID   string
	From     Status
	Observed Status
	Reason   string
}

func (e *AnomalyError) Error() string {
	id := e.SwapID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("swap %s: protocol anomaly %s -> %s: %s", id, e.From, e.Observed, e.Reason)
}

// Is makes errors.Is(err, ErrAnomaly) true.
func (e *AnomalyError) Is(target error) bool {
	return target == ErrAnomaly
}

// Transition moves current to observed if that is a legal edge. Observing the
// current status again is a no-op. Anything else is an *AnomalyError and the
// current status is returned unchanged.
func Transition(current, observed Status) (Status, error) {
	if observed == current {
		return current, nil
	}
	if current.CanTransition(observed) {
		return observed, nil
	}

	reason := "not a legal transition"
	switch {
	case current.IsTerminal():
		reason = "swap already in terminal status"
	case reachable(observed, current):
		reason = "status moved backwards"
	case reachable(current, observed):
		reason = "status skipped required steps"
	}
	return current, &AnomalyError{From: current, Observed: observed, Reason: reason}
}

// reachable reports whether to can be reached from from along legal edges.
func reachable(from, to Status) bool {
	seen := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range transitions[s] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// EffectKind names a side effect requested by the reducer.
type EffectKind string

const (
	EffectPersist      EffectKind = "persist"
	EffectClaim        EffectKind = "claim"
	EffectRefundCheck  EffectKind = "refund_check"
	EffectAnomaly      EffectKind = "anomaly"
	EffectStopWatching EffectKind = "stop_watching"
)

// Effect is a side effect the scheduler must carry out after a transition.
type Effect struct {
	Kind    EffectKind
	Status  Status
	Anomaly *AnomalyError
}

// Reduce applies an observed status to the current one and returns the next
// status with the effects it triggers. It performs no I/O.
//
// An illegal observation leaves the status unchanged and returns the anomaly
// both as an error and as an EffectAnomaly. Entering an anomalous status
// (clientrefundedserverfunded) is applied, since the coordinator's funds are
// really locked, but is surfaced as an anomaly for operator escalation with
// no automatic resolution.
func Reduce(d Descriptor, swapID string, current, observed Status) (Status, []Effect, error) {
	next, err := Transition(current, observed)
	if err != nil {
		var anomaly *AnomalyError
		errors.As(err, &anomaly)
		anomaly.SwapID = swapID
		return current, []Effect{{Kind: EffectAnomaly, Status: current, Anomaly: anomaly}}, anomaly
	}
	if next == current {
		return current, nil, nil
	}

	effects := []Effect{{Kind: EffectPersist, Status: next}}

	if next == StatusServerFunded && d.ClaimKind != ClaimNone {
		effects = append(effects, Effect{Kind: EffectClaim, Status: next})
	}
	if next.NeedsRefund() && d.RefundKind != RefundNone {
		effects = append(effects, Effect{Kind: EffectRefundCheck, Status: next})
	}
	if next.IsAnomaly() {
		effects = append(effects, Effect{
			Kind:   EffectAnomaly,
			Status: next,
			Anomaly: &AnomalyError{
				SwapID:   swapID,
				From:     current,
				Observed: next,
				Reason:   "server funded after client refunded; operator action required",
			},
		})
	}
	if next.IsTerminal() {
		effects = append(effects, Effect{Kind: EffectStopWatching, Status: next})
	}
	return next, effects, nil
}
