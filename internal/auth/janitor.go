package auth

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SessionJanitor deletes expired sessions off the request path. Requests
// nudge it through Trigger; the process owns its lifetime through Run.
type SessionJanitor struct {
	svc    *Service
	log    logrus.FieldLogger
	signal chan struct{}
}

func NewSessionJanitor(svc *Service, log logrus.FieldLogger) *SessionJanitor {
	return &SessionJanitor{svc: svc, log: log, signal: make(chan struct{}, 1)}
}

// Trigger never blocks. Triggers that arrive while a cleanup is already
// pending collapse into that one.
func (j *SessionJanitor) Trigger() {
	select {
	case j.signal <- struct{}{}:
	default:
	}
}

// Run processes triggers until ctx is cancelled.
func (j *SessionJanitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.signal:
			j.Clean(ctx)
		}
	}
}

// Clean performs one cleanup pass. It is also the scheduler's job body.
func (j *SessionJanitor) Clean(ctx context.Context) error {
	n, err := j.svc.CleanExpiredSessions(ctx)
	if err != nil {
		j.log.WithError(err).Warn("expired session cleanup failed")
		return err
	}
	if n > 0 {
		j.log.WithField("deleted", n).Info("expired sessions cleaned")
	}
	return nil
}
