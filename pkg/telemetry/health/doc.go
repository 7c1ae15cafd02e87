// Package health provides the health endpoints of the gatekeeper daemon.
//
// # Endpoints
//
//   - /healthz: Liveness probe, 200 while the process runs
//   - /readyz: Readiness probe, 503 when a component check fails
//   - /version: Build information
//
// # Usage
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("store", health.StoreCheck(mgr.Backend))
//	checker.RegisterCheck("patterns", health.PatternsCheck(func() []string {
//	    return mgr.Engine().Patterns()
//	}))
//	checker.RegisterCheck("scheduler", health.RunningCheck("scheduler", sched.IsRunning))
//
//	health.Register(mux, checker, Version, GitCommit, BuildDate)
//
// Readiness runs every check concurrently, each bounded by the checker's
// timeout.
package health
