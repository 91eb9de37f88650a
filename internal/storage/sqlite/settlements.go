package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fairsettle/fairsettle/internal/models"
)

// queueStates filters settlements that occupy the execution queue.
// DISPUTED settlements keep their position but drop out of head eligibility.
const queueStates = "('INITIATED', 'EXECUTING')"

// CreateSettlement persists a new settlement with its transfers, assigning
// the next monotonic settlement ID.
func (s *SQLiteStore) CreateSettlement(ctx context.Context, st *models.Settlement, transfers []models.Transfer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := nextCounter(ctx, tx, "settlement_id")
	if err != nil {
		return err
	}
	st.ID = id

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlements
			(id, initiator, total_amount, total_deposited, state, created_at,
			 timeout_seconds, total_transfers, executed_transfers, price_symbol)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Initiator, st.TotalAmount, st.TotalDeposited, string(st.State),
		st.CreatedAt, st.Timeout, st.TotalTransfers, st.ExecutedTransfers, st.PriceSymbol,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	for i := range transfers {
		t := &transfers[i]
		t.SettlementID = st.ID
		_, err = tx.ExecContext(ctx,
			"INSERT INTO transfers (settlement_id, idx, from_party, to_party, amount, executed) VALUES (?, ?, ?, ?, ?, 0)",
			t.SettlementID, t.Index, t.From, t.To, t.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSettlement retrieves a settlement by ID.
func (s *SQLiteStore) GetSettlement(ctx context.Context, id int64) (*models.Settlement, error) {
	return scanSettlement(s.db.QueryRowContext(ctx,
		selectSettlement+" WHERE id = ?", id,
	))
}

const selectSettlement = `
	SELECT id, initiator, total_amount, total_deposited, state, created_at,
	       timeout_seconds, queue_position, total_transfers, executed_transfers,
	       price_symbol, dispute_reason
	FROM settlements`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (*models.Settlement, error) {
	st := &models.Settlement{}
	var state string
	var queuePos sql.NullInt64
	err := row.Scan(
		&st.ID, &st.Initiator, &st.TotalAmount, &st.TotalDeposited, &state,
		&st.CreatedAt, &st.Timeout, &queuePos, &st.TotalTransfers,
		&st.ExecutedTransfers, &st.PriceSymbol, &st.DisputeReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan settlement: %w", err)
	}
	st.State = models.State(state)
	if queuePos.Valid {
		st.QueuePosition = &queuePos.Int64
	}
	return st, nil
}

// GetTransfers retrieves a settlement's transfers ordered by index.
func (s *SQLiteStore) GetTransfers(ctx context.Context, id int64) ([]models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT settlement_id, idx, from_party, to_party, amount, executed FROM transfers WHERE settlement_id = ? ORDER BY idx",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		var t models.Transfer
		if err := rows.Scan(&t.SettlementID, &t.Index, &t.From, &t.To, &t.Amount, &t.Executed); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return transfers, nil
}

// UpdateSettlement persists the mutable settlement fields.
func (s *SQLiteStore) UpdateSettlement(ctx context.Context, st *models.Settlement) error {
	var queuePos sql.NullInt64
	if st.QueuePosition != nil {
		queuePos = sql.NullInt64{Int64: *st.QueuePosition, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlements
		SET total_deposited = ?, state = ?, queue_position = ?,
		    executed_transfers = ?, dispute_reason = ?
		WHERE id = ?`,
		st.TotalDeposited, string(st.State), queuePos,
		st.ExecutedTransfers, st.DisputeReason, st.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// NextSettlementID returns the ID the next created settlement will receive.
func (s *SQLiteStore) NextSettlementID(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM counters WHERE name = 'settlement_id'",
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to read settlement counter: %w", err)
	}
	return value + 1, nil
}

// AddDeposit records a deposit and sets the settlement's deposited total in
// one transaction.
func (s *SQLiteStore) AddDeposit(ctx context.Context, d *models.Deposit, newTotal int64) error {
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO deposits (settlement_id, depositor, amount, created_at) VALUES (?, ?, ?, ?)",
		d.SettlementID, d.Depositor, d.Amount, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deposit: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE settlements SET total_deposited = ? WHERE id = ?",
		newTotal, d.SettlementID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deposited total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListDeposits returns all deposits for a settlement in insertion order.
func (s *SQLiteStore) ListDeposits(ctx context.Context, settlementID int64) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT settlement_id, depositor, amount, created_at FROM deposits WHERE settlement_id = ? ORDER BY id",
		settlementID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get deposits: %w", err)
	}
	defer rows.Close()

	var deposits []models.Deposit
	for rows.Next() {
		var d models.Deposit
		if err := rows.Scan(&d.SettlementID, &d.Depositor, &d.Amount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deposits: %w", err)
	}
	return deposits, nil
}

// ApplyExecution marks the transfers at the given indexes executed, credits
// each recipient's payout account, debits the disbursed amount from the
// settlement's deposited total, advances the executed counter, and moves the
// settlement to newState in one transaction.
func (s *SQLiteStore) ApplyExecution(ctx context.Context, settlementID int64, indexes []int, newState models.State) error {
	if len(indexes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := make([]any, 0, len(indexes)+1)
	args = append(args, settlementID)
	for _, idx := range indexes {
		args = append(args, idx)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(indexes)), ",")

	// Credit recipients before flipping the executed flags so the rows
	// still identify the pending transfers.
	rows, err := tx.QueryContext(ctx,
		"SELECT to_party, amount FROM transfers WHERE settlement_id = ? AND idx IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to get transfer recipients: %w", err)
	}
	type payout struct {
		party  string
		amount int64
	}
	var payouts []payout
	for rows.Next() {
		var p payout
		if err := rows.Scan(&p.party, &p.amount); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan recipient: %w", err)
		}
		payouts = append(payouts, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate recipients: %w", err)
	}
	var batchTotal int64
	for _, p := range payouts {
		if err := creditAccount(ctx, tx, p.party, p.amount); err != nil {
			return err
		}
		batchTotal += p.amount
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE transfers SET executed = 1 WHERE settlement_id = ? AND idx IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transfers executed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check executed rows: %w", err)
	}
	if n != int64(len(indexes)) {
		return fmt.Errorf("expected %d transfers marked executed, got %d", len(indexes), n)
	}

	// Disbursed funds leave the escrow pool: a later refund returns only
	// what execution has not already paid out.
	_, err = tx.ExecContext(ctx, `
		UPDATE settlements
		SET executed_transfers = executed_transfers + ?,
		    total_deposited = total_deposited - ?,
		    state = ?
		WHERE id = ?`,
		len(indexes), batchTotal, string(newState), settlementID,
	)
	if err != nil {
		return fmt.Errorf("failed to advance settlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ApplyRefund returns the settlement's undisbursed balance to its depositors,
// zeroes the deposited total, and moves the settlement to FAILED in one
// transaction. Each depositor receives at most their contributed sum; when
// partial execution has already paid part of the pool out, the remainder is
// returned in deposit order, so only payouts plus refunds ever equal what was
// deposited.
func (s *SQLiteStore) ApplyRefund(ctx context.Context, settlementID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var remaining int64
	err = tx.QueryRowContext(ctx,
		"SELECT total_deposited FROM settlements WHERE id = ?", settlementID,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read deposited total: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT depositor, SUM(amount) FROM deposits WHERE settlement_id = ? GROUP BY depositor ORDER BY MIN(id)",
		settlementID,
	)
	if err != nil {
		return fmt.Errorf("failed to get depositors: %w", err)
	}
	type contribution struct {
		depositor string
		amount    int64
	}
	var contributions []contribution
	for rows.Next() {
		var c contribution
		if err := rows.Scan(&c.depositor, &c.amount); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan depositor: %w", err)
		}
		contributions = append(contributions, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate depositors: %w", err)
	}

	for _, c := range contributions {
		if remaining <= 0 {
			break
		}
		amount := c.amount
		if amount > remaining {
			amount = remaining
		}
		if err := creditAccount(ctx, tx, c.depositor, amount); err != nil {
			return err
		}
		remaining -= amount
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE settlements SET total_deposited = 0, state = ? WHERE id = ?",
		string(models.StateFailed), settlementID,
	)
	if err != nil {
		return fmt.Errorf("failed to fail settlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AssignQueuePosition allocates the next queue position, stamps it on the
// settlement, and moves it to INITIATED in one transaction.
func (s *SQLiteStore) AssignQueuePosition(ctx context.Context, settlementID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pos, err := nextCounter(ctx, tx, "queue_position")
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE settlements SET queue_position = ?, state = ? WHERE id = ?",
		pos, string(models.StateInitiated), settlementID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue settlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return pos, nil
}

// QueueHead returns the settlement with the lowest queue position among those
// in INITIATED or EXECUTING.
func (s *SQLiteStore) QueueHead(ctx context.Context) (*models.Settlement, error) {
	return scanSettlement(s.db.QueryRowContext(ctx,
		selectSettlement+` WHERE state IN `+queueStates+`
		 AND queue_position IS NOT NULL
		 ORDER BY queue_position LIMIT 1`,
	))
}

// QueueLength returns the number of settlements in INITIATED or EXECUTING.
func (s *SQLiteStore) QueueLength(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM settlements WHERE state IN "+queueStates+" AND queue_position IS NOT NULL",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// AccountBalance returns the payout balance for a party.
func (s *SQLiteStore) AccountBalance(ctx context.Context, party string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE party = ?", party,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}
