/*
Package api is the thin HTTP JSON adapter over the core contract.

Routes:

	PUT  /sync      trigger a manual resync; busy answer when throttled
	GET  /runtime   cluster occupancy snapshot
	GET  /quota     all balances, or ?username= for one user
	POST /realloc   allocation request; username/password arrive base64-encoded
	GET  /healthz   liveness probe
	GET  /metrics   Prometheus metrics

Every response uses the envelope

	{"ok": true, "data": ...}
	{"ok": false, "reason": "..."}

The adapter decodes credentials at the edge and hands the core plain strings;
it contains no scheduling logic. Middleware assigns a request ID, sets
permissive CORS headers for the dashboard, and records request metrics.
*/
package api
