package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/mutorelay/core/hardware"
	coremetrics "github.com/kilianp07/mutorelay/core/metrics"
	"github.com/kilianp07/mutorelay/infra/logger"
)

// StatusSource publishes hardware status transitions.
type StatusSource interface {
	Status() hardware.Status
	Updates() <-chan hardware.Status
	Unsubscribe(<-chan hardware.Status)
}

// StartStatusCollector records the current hardware status and every later
// transition until ctx is canceled or the source closes its updates.
func StartStatusCollector(ctx context.Context, src StatusSource, sink coremetrics.Sink) {
	if src == nil || sink == nil {
		return
	}
	log := logger.New("metrics_collector")
	sub := src.Updates()
	record := func(st hardware.Status) {
		ev := coremetrics.StatusEvent{State: string(st.State), Driver: st.Driver, Error: st.Error, Time: st.Since}
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		if err := sink.RecordHardwareStatus(ev); err != nil {
			log.Warnf("record hardware status: %v", err)
		}
	}
	record(src.Status())
	go func() {
		defer src.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-sub:
				if !ok {
					return
				}
				record(st)
			}
		}
	}()
}
