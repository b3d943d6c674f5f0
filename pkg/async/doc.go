// Package async runs the service's long-lived background loops.
//
// A Group owns a cancellable context. Every loop started with Go receives it,
// runs under panic recovery and is logged when it stops. Shutdown cancels the
// context and waits, bounded by a timeout, for the loops to return.
//
//	g := async.NewGroup(ctx, logger)
//	g.Go("tenant invalidation listener", registry.Listen)
//	defer g.Shutdown(5 * time.Second)
package async
