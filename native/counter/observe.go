package counter

import (
	"strconv"

	"counterchain/core/host"
	"counterchain/observability"
)

// ObserveResult feeds committed counter actions of a finished transaction
// into the counter metrics. It is meant to be registered as a
// host.ResultHook.
func ObserveResult(res *host.Result) {
	if res == nil {
		return
	}
	metrics := observability.Counter()
	for _, out := range res.Outcomes() {
		if !out.Succeeded() {
			continue
		}
		for _, evt := range out.Events {
			if evt == nil || evt.Type != EventTypePerformAction {
				continue
			}
			value, err := strconv.ParseFloat(evt.Attributes["value"], 64)
			if err != nil {
				continue
			}
			metrics.RecordAction(evt.Attributes["requested"], evt.Attributes["action"], value)
		}
	}
}
