package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance returns an unstarted scheduler running the periodic jobs on
// spec: cache statistics, Redis pool gauges and connection pool logging.
// Audit retention runs on its own schedule when the trail is in Postgres.
func (a *App) Maintenance(spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = "@every 5m"
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{a})))

	if _, err := c.AddFunc(spec, a.reportCacheStats); err != nil {
		return nil, fmt.Errorf("failed to schedule cache statistics: %w", err)
	}
	if a.Redis != nil {
		if _, err := c.AddFunc(spec, func() { a.Redis.RecordPoolStats(a.Metrics) }); err != nil {
			return nil, fmt.Errorf("failed to schedule redis pool statistics: %w", err)
		}
	}
	if a.Conns != nil {
		if _, err := c.AddFunc(spec, a.reportConnectionStats); err != nil {
			return nil, fmt.Errorf("failed to schedule connection statistics: %w", err)
		}
	}
	if a.auditDB != nil && a.Config.Audit.Retention > 0 {
		if _, err := c.AddFunc(a.Config.Audit.PurgeSchedule, a.purgeAudit); err != nil {
			return nil, fmt.Errorf("failed to schedule audit retention: %w", err)
		}
	}
	return c, nil
}

func (a *App) purgeAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := a.auditDB.Purge(ctx, time.Now().Add(-a.Config.Audit.Retention))
	if err != nil {
		a.Logger.WithError(err).Error("audit retention failed")
		return
	}
	a.Logger.WithField("purged", n).Info("audit retention complete")
}

func (a *App) reportCacheStats() {
	stats := a.Cache.Stats()
	a.Logger.WithFields(map[string]interface{}{
		"hits":           stats.Hits,
		"misses":         stats.Misses,
		"errors":         stats.Errors,
		"hit_rate":       stats.HitRate,
		"tenants_cached": a.TenantCache.Len(),
		"keys_cached":    a.Envelope.CachedKeys(),
	}).Info("cache statistics")
}

func (a *App) reportConnectionStats() {
	stats := a.Conns.Stats()
	a.Logger.WithFields(map[string]interface{}{
		"open":     stats.Primary.OpenConnections,
		"in_use":   stats.Primary.InUse,
		"idle":     stats.Primary.Idle,
		"replicas": len(stats.Replicas),
	}).Debug("postgres pool statistics")
}

// cronLogger adapts the app logger to cron.Logger
type cronLogger struct {
	a *App
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.a.Logger.WithFields(kv(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.a.Logger.WithFields(kv(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kv(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
