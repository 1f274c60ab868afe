package matcher

import (
	"context"
	"database/sql"
	"strings"

	"github.com/obridge/maker-go/database"
)

// Store persists transactions and pairings. Reads go through the
// shared statement cache; the multi-row atomic match runs inside one
// sql.Tx (see WithMatchTx).
type Store struct {
	db        *sql.DB
	stmtCache *database.StmtCache
}

func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(txTable + makerTxTable); err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (s *Store) Close() {
	s.stmtCache.Clear()
}

// WithMatchTx runs fn inside one database transaction. Everything the
// match mutates (two tx rows + the pairing upsert) commits or rolls
// back together; sqlite's writer lock serializes concurrent matches
// that touch the same pairing.
func (s *Store) WithMatchTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertTransaction inserts the record if (chainId, hash) is new and
// returns the stored row either way. Redelivered records land on the
// already-stored row.
func (s *Store) InsertTransaction(t *Transaction) (*Transaction, error) {
	query := `INSERT OR IGNORE INTO tx
		(chainId, hash, fromAddr, toAddr, symbol, tokenAddr, value, nonce, timestamp, status, side, memo, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}
	if _, err := stmt.Exec(
		t.ChainID, strings.ToLower(t.Hash), strings.ToLower(t.From), strings.ToLower(t.To),
		strings.ToUpper(t.Symbol), strings.ToLower(t.TokenAddress), t.Value,
		t.Nonce, t.Timestamp, int(t.Status), int(t.Side), t.Memo, t.Extra,
	); err != nil {
		return nil, err
	}
	return s.GetTransactionByHash(t.ChainID, t.Hash)
}

func (s *Store) GetTransaction(id int64) (*Transaction, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + txColumns + `FROM tx WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	return scanOne(stmt.QueryRow(id))
}

func (s *Store) GetTransactionByHash(chainID uint64, hash string) (*Transaction, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + txColumns + `FROM tx WHERE chainId = ? AND hash = ?`)
	if err != nil {
		return nil, err
	}
	return scanOne(stmt.QueryRow(chainID, strings.ToLower(hash)))
}

func (s *Store) GetPairing(transferID string) (*Pairing, bool, error) {
	stmt, err := s.stmtCache.Prepare(
		`SELECT transferId, inId, outId, fromChain, toChain, toAmount, replySender, replyAccount
		 FROM maker_transaction WHERE transferId = ?`)
	if err != nil {
		return nil, false, err
	}
	return scanPairing(stmt.QueryRow(transferID))
}

// GetPairingByTxID finds the pairing that references the row on either
// side. Used by the Reconcile idempotency check.
func (s *Store) GetPairingByTxID(id int64) (*Pairing, bool, error) {
	stmt, err := s.stmtCache.Prepare(
		`SELECT transferId, inId, outId, fromChain, toChain, toAmount, replySender, replyAccount
		 FROM maker_transaction WHERE inId = ? OR outId = ?`)
	if err != nil {
		return nil, false, err
	}
	return scanPairing(stmt.QueryRow(id, id))
}

// TransferFilter narrows ListTransfers. Zero values mean "any".
type TransferFilter struct {
	Address string
	Side    *Side
	Status  *Status
	Page    int // 1-based
	Size    int
}

// ListTransfers is the read-only projection behind the query API.
func (s *Store) ListTransfers(f TransferFilter) ([]*Transaction, error) {
	query := `SELECT` + txColumns + `FROM tx WHERE 1=1`
	var args []interface{}
	if f.Address != "" {
		query += ` AND (fromAddr = ? OR toAddr = ?)`
		addr := strings.ToLower(f.Address)
		args = append(args, addr, addr)
	}
	if f.Side != nil {
		query += ` AND side = ?`
		args = append(args, int(*f.Side))
	}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, int(*f.Status))
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	size := f.Size
	if size <= 0 || size > 100 {
		size = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, size, (page-1)*size)

	stmt, err := s.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListOverdueUserTx returns user deposits past their reply deadline
// that were neither matched nor refunded, ascending id. afterID bounds
// the re-scan cost for the accumulator's polling.
func (s *Store) ListOverdueUserTx(chainID uint64, afterID int64, now int64) ([]*Transaction, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + txColumns + `FROM tx
		WHERE chainId = ? AND id > ? AND side = 0 AND status = ?
		AND deadline > 0 AND deadline < ?
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(chainID, afterID, int(StatusComplete), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListDelayedMakerTx returns maker replies flagged matched-late on the
// chain, ascending id.
func (s *Store) ListDelayedMakerTx(chainID uint64, afterID int64) ([]*Transaction, error) {
	stmt, err := s.stmtCache.Prepare(`SELECT` + txColumns + `FROM tx
		WHERE chainId = ? AND id > ? AND side = 1 AND status = ?
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(chainID, afterID, int(StatusMatchedLate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// SetStatus writes a status outside the match transaction (terminal
// branches like NoRoute/Rejected). Monotonic: a terminal row is never
// overwritten.
func (s *Store) SetStatus(id int64, status Status) error {
	stmt, err := s.stmtCache.Prepare(
		`UPDATE tx SET status = ? WHERE id = ? AND status NOT IN (2, 3, 4, 98, 99)`)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(int(status), id)
	return err
}

// --- operations inside a match transaction ---

// markProcessedTx records the classification outcome on the row: side,
// route binding, routing memo, expectation and deadline, plus the new
// status.
func markProcessedTx(tx *sql.Tx, t *Transaction) error {
	_, err := tx.Exec(`UPDATE tx SET
			status = ?, side = ?, memo = ?, replySender = ?, replyAccount = ?,
			routeId = ?, makerId = ?, ebcId = ?, expectValue = ?, deadline = ?
		WHERE id = ? AND status NOT IN (2, 3, 4, 98, 99)`,
		int(t.Status), int(t.Side), t.Memo, strings.ToLower(t.ReplySender),
		strings.ToLower(t.ReplyAccount), t.RouteID, t.MakerID, t.EbcID,
		t.ExpectValue, t.Deadline, t.ID)
	return err
}

func setStatusTx(tx *sql.Tx, id int64, status Status) error {
	_, err := tx.Exec(
		`UPDATE tx SET status = ? WHERE id = ? AND status NOT IN (2, 3, 4, 98, 99)`,
		int(status), id)
	return err
}

// candidatesTx fetches counterpart candidates matching the cheap
// predicates, earliest first; equal timestamps break by smallest id.
// Value comparison happens in the engine on big integers, not here.
func candidatesTx(tx *sql.Tx, chainID uint64, from, to, symbol string, status Status, side Side, tsMin, tsMax int64) ([]*Transaction, error) {
	rows, err := tx.Query(`SELECT`+txColumns+`FROM tx
		WHERE chainId = ? AND fromAddr = ? AND toAddr = ? AND symbol = ?
		AND status = ? AND side = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`,
		chainID, strings.ToLower(from), strings.ToLower(to), strings.ToUpper(symbol),
		int(status), int(side), tsMin, tsMax)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// depositCandidatesTx fetches deposits already bound to the reply's
// sender/account whose memo routes to the reply chain, earliest first.
func depositCandidatesTx(tx *sql.Tx, replySender, replyAccount, toChainMemo, symbol string, tsMin, tsMax int64) ([]*Transaction, error) {
	rows, err := tx.Query(`SELECT`+txColumns+`FROM tx
		WHERE replySender = ? AND replyAccount = ? AND memo = ? AND symbol = ?
		AND status = ? AND side = 0 AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`,
		strings.ToLower(replySender), strings.ToLower(replyAccount), toChainMemo,
		strings.ToUpper(symbol), int(StatusComplete), tsMin, tsMax)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// upsertPairingTx writes the pairing row. Existing in/out ids are kept
// unless the incoming value sets a side that was empty; a pairing's
// side links are immutable once set.
func upsertPairingTx(tx *sql.Tx, p *Pairing) error {
	_, err := tx.Exec(`INSERT INTO maker_transaction
			(transferId, inId, outId, fromChain, toChain, toAmount, replySender, replyAccount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transferId) DO UPDATE SET
			inId = COALESCE(maker_transaction.inId, excluded.inId),
			outId = COALESCE(maker_transaction.outId, excluded.outId),
			toAmount = COALESCE(maker_transaction.toAmount, excluded.toAmount)`,
		p.TransferID, nullID(p.InID), nullID(p.OutID), p.FromChainID, p.ToChainID,
		p.ToAmount, strings.ToLower(p.ReplySender), strings.ToLower(p.ReplyAccount))
	return err
}

// --- scanning ---

func nullID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTx(r rowScanner) (*Transaction, error) {
	var (
		t                                    Transaction
		status, side                         int
		tokenAddr, memo, replySender         sql.NullString
		replyAccount, routeID, makerID       sql.NullString
		expectValue, extra                   sql.NullString
	)
	if err := r.Scan(
		&t.ID, &t.ChainID, &t.Hash, &t.From, &t.To, &t.Symbol, &tokenAddr, &t.Value,
		&t.Nonce, &t.Timestamp, &status, &side, &memo, &replySender, &replyAccount,
		&routeID, &makerID, &t.EbcID, &expectValue, &t.Deadline, &extra,
	); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Side = Side(side)
	t.TokenAddress = tokenAddr.String
	t.Memo = memo.String
	t.ReplySender = replySender.String
	t.ReplyAccount = replyAccount.String
	t.RouteID = routeID.String
	t.MakerID = makerID.String
	t.ExpectValue = expectValue.String
	t.Extra = extra.String
	return &t, nil
}

func scanOne(row *sql.Row) (*Transaction, error) {
	t, err := scanTx(row)
	if err == sql.ErrNoRows {
		return nil, ErrTxNotFound
	}
	return t, err
}

func scanAll(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanPairing(r rowScanner) (*Pairing, bool, error) {
	var (
		p                          Pairing
		inID, outID                sql.NullInt64
		toAmount, sender, account  sql.NullString
	)
	if err := r.Scan(&p.TransferID, &inID, &outID, &p.FromChainID, &p.ToChainID,
		&toAmount, &sender, &account); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	p.InID = inID.Int64
	p.OutID = outID.Int64
	p.ToAmount = toAmount.String
	p.ReplySender = sender.String
	p.ReplyAccount = account.String
	return &p, true, nil
}
