package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Log writes refresh outcomes to log until ctx is done.
func Log(ctx context.Context, h *Hub, log logrus.FieldLogger) {
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			logEvent(ev, log)
		}
	}
}

func logEvent(ev Event, log logrus.FieldLogger) {
	switch ev.Name {
	case RefreshCompleted, RefreshFailed:
		p, err := DecodeAs[RefreshEvent](ev)
		if err != nil {
			log.WithError(err).WithField("event", ev.Name).Warn("malformed event payload")
			return
		}
		l := log.WithFields(logrus.Fields{
			"generation": p.Generation,
			"attribute":  p.Attribute,
			"rows":       p.Rows,
		})
		if ev.Name == RefreshFailed {
			l.WithField("error", p.Error).Warn("fleet refresh failed")
			return
		}
		l.Info("fleet refreshed")
	case Enriched:
		p, err := DecodeAs[EnrichedEvent](ev)
		if err != nil {
			log.WithError(err).WithField("event", ev.Name).Warn("malformed event payload")
			return
		}
		log.WithFields(logrus.Fields{
			"generation": p.Generation,
			"user":       p.User,
			"rows":       p.Rows,
		}).Debug("rows enriched")
	}
}
