// Package models defines the core domain models for FairSettle.
//
// # Models
//
//   - Settlement: one funded batch of transfers, processed as a single unit
//     of the fair-ordering queue
//   - Transfer: one line item of a settlement (from, to, amount)
//   - Deposit: one depositor's contribution toward a settlement's total
//   - User: an authenticated caller; Role distinguishes admins (dispute
//     resolution) from regular users
//
// # Design Principles
//
// 1. **Integer money**: all amounts are int64 smallest-unit quantities. No
// floating point anywhere; every addition against a bounded balance goes
// through AddAmount so overflow fails explicitly instead of wrapping.
//
// 2. **Explicit states**: the settlement lifecycle is a closed set of states
// with an AllowedTransitions table. FINALIZED and FAILED are terminal;
// records in terminal states are retained for audit, never deleted.
//
// 3. **Avoid circular references**: relationships use IDs, not pointers.
package models
