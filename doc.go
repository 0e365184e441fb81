// Package pacer coordinates when computational work runs and how much of a
// constrained resource pool it may consume at any instant. It pairs a
// multi-time-scale task scheduler with a resource-pressure coordinator; the
// two communicate exclusively through an asynchronous, correlation-keyed
// message bus.
//
// End-users typically interact via the high-level Service façade exposed by
// this package:
//
//	srv, _ := pacer.New()
//	rt := srv.Runtime()
//	_ = rt.Start(ctx)
//	id, _ := rt.Scheduler().Register("ingest", ingest, 5)
//	defer rt.Shutdown()
//
// For more details see the individual sub-packages.
package pacer
