/*
Package errdefs defines the error taxonomy shared by every Tapestry
component.

Errors crossing a component boundary carry a Kind (INVALID_INPUT, NOT_FOUND,
PERMISSION_DENIED, TENANT_MISMATCH, ALREADY_EXISTS, CONFLICT, RATE_LIMITED,
UPSTREAM_UNAVAILABLE, RETRIABLE_TRANSPORT, INTERNAL). Kinds survive any
amount of fmt.Errorf("%w") wrapping and are extracted with KindOf or matched
with Is.

# Usage

Creating and wrapping:

	return errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", id)

	if err := store.PutNode(ctx, node); err != nil {
		return errdefs.Wrap(errdefs.KindInternal, err, "failed to persist node")
	}

Classifying at the edges:

	status := errdefs.HTTPStatus(err)   // control-plane reply status
	code := errdefs.ExitCode(err)       // CLI exit code
	if errdefs.Retriable(err) {         // scheduler backoff decision
		backoff.Retry(run)
	}

Engine condition errors are package-level sentinels usable with errors.Is:

	if errors.Is(err, errdefs.ErrAlreadyRunning) { ... }

# Sanitization

Sanitize renders an error for run records and control-plane replies: the
first line only, with secret-looking values redacted. Sink, driver, and LLM
errors pass through Sanitize before they become a unit's lastError.
*/
package errdefs
