// Package errors provides structured error types for lifecycle protocol violations.
//
// Errors are categorized by Phase (which operation was misused) and Kind (what
// went wrong). The Error type carries the offending owner, the observed
// reservation count and, when tracing is enabled, the stack trace that
// explains the conflict (where the resource was closed or reserved).
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRelease, errors.KindOwnerViolation).
//		Owner(o.String()).
//		Count(2).
//		Detail("not reserved by this owner").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AlreadyReleased(errors.PhaseReserve, o.String())
//	err := errors.NotLastReservation(errors.PhaseReleaseLast, o.String(), 3)
//
// All errors implement the standard error interface and support errors.Is/As.
// Compare against the Err* sentinels to match a Kind regardless of Phase.
package errors
