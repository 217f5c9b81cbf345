/*
Package ledger is the single writer of wallet balances. Every movement of
money in the system funnels through it: escrow funding, milestone releases,
dispute payouts, fees, deposits and withdrawals.

Guarantees:

  - All amounts are integer minor currency units; no floating point.
  - 0 <= lockedBalance <= balance holds for every wallet at every commit;
    a violation is reported as an integrity error and never auto-corrected.
  - Every balance mutation and its WalletTransaction record commit as one
    database transaction; partial application is structurally impossible.
  - Mutations take a SELECT ... FOR UPDATE lock on the wallet row(s). Two-
    wallet operations lock in ascending wallet id order to prevent deadlock
    under concurrent opposite-direction transfers.
  - Credit and Transfer deduplicate on a caller-supplied idempotency key:
    a replay performs no work and returns the prior record together with
    ErrDuplicateOperation so the caller can treat it as already applied.

External provider calls (deposits, payouts) are never issued while a database
lock is held; their outcomes are applied through the reconciler's idempotent
event path.
*/
package ledger
