// Gatekeeper is a self-tuning policy enforcement engine for agent actions.
//
// Each configured pattern starts in OBSERVE, graduates to WARN and then
// ENFORCE as its detections prove reliable, and backs off again when users
// keep overriding it. Recurring overrides are turned into exception rules.
//
// Usage:
//
//	# Evaluate one context read from stdin
//	gatekeeper evaluate --pattern retry-loop < context.json
//
//	# Show the per-pattern report
//	gatekeeper report --format json
//
//	# List learned exception rules, retired ones included
//	gatekeeper rules list --pattern retry-loop --all
//
//	# Run the metrics and health daemon
//	gatekeeper serve --config /etc/gatekeeper/gatekeeper.yaml
package main

import "os"

func main() {
	os.Exit(Execute())
}
