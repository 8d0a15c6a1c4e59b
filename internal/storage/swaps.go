package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrInvalidSwap  = errors.New("invalid swap record")
)

// Terminal flow steps.
const (
	StepDone   = "Done"
	StepFailed = "Failed"
)

// SwapRecord is a persisted flow.
type SwapRecord struct {
	ID           string `json:"id"`
	SwapID       string `json:"swap_id,omitempty"`
	Direction    string `json:"direction"`
	Status       string `json:"status,omitempty"`
	Step         string `json:"step"`
	PreimageHash string `json:"preimage_hash,omitempty"`

	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
	Amount       uint64 `json:"amount"`

	LockupAddress string `json:"lockup_address,omitempty"`
	LockTxHash    string `json:"lock_tx_hash,omitempty"`
	ClaimTxID     string `json:"claim_tx_id,omitempty"`
	RefundTxHash  string `json:"refund_tx_hash,omitempty"`

	RefundKeyIndex     *uint32 `json:"refund_key_index,omitempty"`
	TimeoutBlockHeight uint32  `json:"timeout_block_height"`

	Error      string `json:"error,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`

	// Data is the full swap record as JSON.
	Data json.RawMessage `json:"data,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the flow ended.
func (r *SwapRecord) IsTerminal() bool {
	return r.Step == StepDone || r.Step == StepFailed
}

const swapColumns = `
	id, swap_id, direction, status, step, preimage_hash,
	from_currency, to_currency, amount,
	lockup_address, lock_tx_hash, claim_tx_id, refund_tx_hash,
	refund_key_index, timeout_block_height,
	error, error_class, data,
	created_at, updated_at, completed_at`

// SaveSwap creates or updates a swap record.
func (s *Storage) SaveSwap(swap *SwapRecord) error {
	if swap.ID == "" || swap.Direction == "" || swap.Step == "" {
		return fmt.Errorf("%w: id, direction and step are required", ErrInvalidSwap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	if swap.UpdatedAt.IsZero() {
		swap.UpdatedAt = now
	}
	if swap.IsTerminal() && swap.CompletedAt.IsZero() {
		swap.CompletedAt = swap.UpdatedAt
	}

	var keyIndex sql.NullInt64
	if swap.RefundKeyIndex != nil {
		keyIndex = sql.NullInt64{Int64: int64(*swap.RefundKeyIndex), Valid: true}
	}

	query := `
		INSERT INTO swaps (` + swapColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			swap_id = excluded.swap_id,
			status = excluded.status,
			step = excluded.step,
			preimage_hash = excluded.preimage_hash,
			lockup_address = excluded.lockup_address,
			lock_tx_hash = excluded.lock_tx_hash,
			claim_tx_id = excluded.claim_tx_id,
			refund_tx_hash = excluded.refund_tx_hash,
			refund_key_index = excluded.refund_key_index,
			timeout_block_height = excluded.timeout_block_height,
			error = excluded.error,
			error_class = excluded.error_class,
			data = excluded.data,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.Exec(query,
		swap.ID,
		swap.SwapID,
		swap.Direction,
		swap.Status,
		swap.Step,
		swap.PreimageHash,
		swap.FromCurrency,
		swap.ToCurrency,
		swap.Amount,
		swap.LockupAddress,
		swap.LockTxHash,
		swap.ClaimTxID,
		swap.RefundTxHash,
		keyIndex,
		swap.TimeoutBlockHeight,
		swap.Error,
		swap.ErrorClass,
		string(swap.Data),
		swap.CreatedAt.Unix(),
		swap.UpdatedAt.Unix(),
		timeToUnixOrZero(swap.CompletedAt),
	)
	return err
}

// GetSwap returns a swap by its local id or its swap service id.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = ? OR swap_id = ?
		ORDER BY created_at DESC LIMIT 1`

	return scanSwapRecord(s.db.QueryRow(query, id, id))
}

// UpdateSwapStep moves a swap to step, recording the service status and
// error when set.
func (s *Storage) UpdateSwapStep(id, step, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	var completedAt int64
	if step == StepDone || step == StepFailed {
		completedAt = now
	}

	query := `
		UPDATE swaps
		SET step = ?,
			status = CASE WHEN ? != '' THEN ? ELSE status END,
			error = CASE WHEN ? != '' THEN ? ELSE error END,
			updated_at = ?,
			completed_at = CASE WHEN ? > 0 THEN ? ELSE completed_at END
		WHERE id = ?
	`

	result, err := s.db.Exec(query, step, status, status, errMsg, errMsg, now, completedAt, completedAt, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSwapNotFound
	}

	return nil
}

// ListPendingSwaps returns the swaps whose flow has not ended, oldest
// first.
func (s *Storage) ListPendingSwaps() ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + ` FROM swaps
		WHERE step NOT IN ('Done', 'Failed')
		ORDER BY created_at ASC`

	return s.querySwaps(query)
}

// ListSwaps returns the most recent swaps, newest first. A limit of zero
// returns all of them.
func (s *Storage) ListSwaps(limit int) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + swapColumns + ` FROM swaps ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.querySwaps(query)
}

// NextRefundKeyIndex returns one past the highest refund key index in use.
func (s *Storage) NextRefundKeyIndex() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(refund_key_index) FROM swaps").Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return uint32(max.Int64) + 1, nil
}

// CountSwaps returns the number of pending and ended swaps.
func (s *Storage) CountSwaps() (pending, completed int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE step NOT IN ('Done', 'Failed')",
	).Scan(&pending)
	if err != nil {
		return
	}

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM swaps WHERE step IN ('Done', 'Failed')",
	).Scan(&completed)
	return
}

func (s *Storage) querySwaps(query string, args ...interface{}) ([]*SwapRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwapRecord(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}

	return swaps, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRecord(row scanner) (*SwapRecord, error) {
	var swap SwapRecord
	var swapID, status, preimageHash, lockupAddress, lockTxHash, claimTxID, refundTxHash,
		errMsg, errClass, data sql.NullString
	var keyIndex, completedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&swap.ID,
		&swapID,
		&swap.Direction,
		&status,
		&swap.Step,
		&preimageHash,
		&swap.FromCurrency,
		&swap.ToCurrency,
		&swap.Amount,
		&lockupAddress,
		&lockTxHash,
		&claimTxID,
		&refundTxHash,
		&keyIndex,
		&swap.TimeoutBlockHeight,
		&errMsg,
		&errClass,
		&data,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSwapNotFound
		}
		return nil, err
	}

	swap.SwapID = swapID.String
	swap.Status = status.String
	swap.PreimageHash = preimageHash.String
	swap.LockupAddress = lockupAddress.String
	swap.LockTxHash = lockTxHash.String
	swap.ClaimTxID = claimTxID.String
	swap.RefundTxHash = refundTxHash.String
	swap.Error = errMsg.String
	swap.ErrorClass = errClass.String
	if data.Valid && data.String != "" {
		swap.Data = json.RawMessage(data.String)
	}
	if keyIndex.Valid {
		idx := uint32(keyIndex.Int64)
		swap.RefundKeyIndex = &idx
	}

	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid && completedAt.Int64 > 0 {
		swap.CompletedAt = time.Unix(completedAt.Int64, 0)
	}

	return &swap, nil
}
