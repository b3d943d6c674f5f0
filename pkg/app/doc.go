// Package app wires the tenancy components from configuration.
//
// New opens the configured backends and builds the tenant registry, the
// permission resolver, the usage limiter, the envelope encryption service and
// the execution runner on top of them. Missing backends degrade to in-process
// implementations so a single binary can run without Postgres or Redis.
//
//	a, err := app.New(cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//	a.Start(ctx)
//	defer a.Stop(5 * time.Second)
package app
