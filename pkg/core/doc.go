// Package core defines the shared language of the leapgate system.
//
// This package contains:
//   - Run entities (Run, TaskRun, RunState, CheckResult)
//   - Service interfaces (Store)
//   - The error taxonomy (ConfigurationError, TransientError, DataViolation, PromotionError)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
