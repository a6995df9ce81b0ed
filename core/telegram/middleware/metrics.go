package middleware

import (
	tele "gopkg.in/telebot.v4"
)

// metricsContext wraps tele.Context to count sent messages per update.
type metricsContext struct{ tele.Context }

func (m metricsContext) incMessages() {
	n := 0
	if v := m.Get("messages"); v != nil {
		if nv, ok := v.(int); ok {
			n = nv
		}
	}
	m.Set("messages", n+1)
}

// Send proxies tele.Context.Send while updating the message counter.
func (m metricsContext) Send(what interface{}, opts ...interface{}) error {
	err := m.Context.Send(what, opts...)
	if err == nil {
		m.incMessages()
	}
	return err
}

// Reply proxies tele.Context.Reply while updating the message counter.
func (m metricsContext) Reply(what interface{}, opts ...interface{}) error {
	err := m.Context.Reply(what, opts...)
	if err == nil {
		m.incMessages()
	}
	return err
}

// MessageMetricsMiddleware instruments context to track the outbound message count.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set("messages", 0)
		return next(metricsContext{Context: c})
	}
}

// GetCounters reads the outbound message count from context.
func GetCounters(c tele.Context) int {
	if v := c.Get("messages"); v != nil {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}
