/*
Package client provides a Go client for the tapestry HTTP API, used by
the CLI and by integration tests.

# Architecture

	┌──────────────── APPLICATION CODE ─────────────────┐
	│                                                    │
	│  c := client.New("http://127.0.0.1:7420", "org-1")│
	│  ep, err := c.CreateEndpoint(ctx, ...)            │
	│                                                    │
	└──────────────┬────────────────────────────────────┘
	               │
	┌──────────────▼──── pkg/client ────────────────────┐
	│  - method per API verb                            │
	│  - X-Tenant-ID on every request                   │
	│  - error bodies mapped back to taxonomy kinds     │
	└──────────────┬────────────────────────────────────┘
	               │ HTTP JSON (/api/v1)
	               ▼
	         tapestry API server

Errors returned by the server arrive as {error, kind, requestId}; the
client rebuilds them as taxonomy errors so callers can switch on
errdefs.KindOf and the CLI derives the right exit code.
*/
package client
