package keycache

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StartRefresh schedules a background sweep that re-validates every entry
// whose re-validation time has passed, on the given cron schedule (e.g.
// "@hourly"). Failed refreshes are logged and the entries stay stale, so
// foreground lookups keep their fallback behavior. The returned stop
// function halts the schedule and waits for a running sweep to finish.
func (c *KeyCache) StartRefresh(spec string) (stop func(), err error) {
	cr := cron.New()
	_, err = cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		c.RefreshDue(ctx)
	})
	if err != nil {
		return nil, err
	}
	cr.Start()
	return func() {
		<-cr.Stop().Done()
	}, nil
}

// RefreshDue re-validates every cached entry that is due. Entries whose
// issuer cannot be reached are left unchanged.
func (c *KeyCache) RefreshDue(ctx context.Context) {
	entries, err := c.store.List(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("key cache sweep: list failed")
		return
	}
	now := time.Now()
	for i := range entries {
		e := &entries[i]
		if now.Before(e.NextUpdate) {
			continue
		}
		if _, err := c.refresh(ctx, e.Issuer, e.KeyID, false); err != nil {
			c.logger.WithFields(logrus.Fields{
				"issuer": e.Issuer,
				"key_id": e.KeyID,
			}).WithError(err).Warn("key cache sweep: refresh failed")
		}
	}
}
