// Package rotation derives the movie-club turn order from elapsed time.
//
// Nothing here is stored or mutated. Given a Rotation (config + active
// participants ordered by position) and an instant, it answers:
//   - which period is current (PeriodIndex)
//   - who is expected to pick in any period (PickerFor)
//   - whether the early-access window is open (InEarlyAccess)
//   - who may pick right now, and for which period (Permission)
//
// Advancement is implicit: the period index is recomputed from the clock on
// every call, so there is no cursor to advance and nothing to drift after
// downtime. Callers persist only the inputs (start date, period length,
// participant order).
package rotation
