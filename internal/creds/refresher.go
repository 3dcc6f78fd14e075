package creds

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agencybridge/sidecar/internal/logging"
)

// refreshTimeout bounds one scheduled re-extraction. Login flows that
// take longer than this have failed in some other way.
const refreshTimeout = 5 * time.Minute

// Refresher re-extracts provider sessions on a schedule so a 23-hour
// session cookie is replaced overnight instead of lapsing mid-day.
type Refresher struct {
	svc  *Service
	cron *cron.Cron
}

// NewRefresher creates a stopped refresher for the service.
func NewRefresher(svc *Service) *Refresher {
	return &Refresher{
		svc:  svc,
		cron: cron.New(),
	}
}

// Schedule re-extracts provider per the cron spec (standard 5-field
// syntax or descriptors like "@every 22h").
func (r *Refresher) Schedule(provider, spec string) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		logging.Infof("[creds] scheduled refresh for %s", provider)
		if _, err := r.svc.Session(ctx, provider, true); err != nil {
			logging.Errorf("[creds] scheduled refresh for %s failed: %v", provider, err)
		}
	})
	return err
}

// Start begins running scheduled refreshes.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
