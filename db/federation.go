package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/vireonet/vireo/domain"
)

// Follows
const (
	// Repeat follow requests are idempotent and never downgrade an edge that
	// was already accepted.
	sqlInsertPendingFollow = `INSERT INTO follows(id, follower_fqid, followee_fqid, uri, state, created_at) VALUES (?, ?, ?, ?, 'PENDING', ?)
                        ON CONFLICT(follower_fqid, followee_fqid) DO NOTHING`
	sqlSelectFollow = `SELECT id, follower_fqid, followee_fqid, uri, state, created_at FROM follows WHERE follower_fqid = ? AND followee_fqid = ?`
	sqlAcceptFollow = `UPDATE follows SET state = 'ACCEPTED' WHERE follower_fqid = ? AND followee_fqid = ? AND state = 'PENDING'`
	sqlDeleteFollow = `DELETE FROM follows WHERE follower_fqid = ? AND followee_fqid = ?`
	sqlSelectFollowersOf = `SELECT id, follower_fqid, followee_fqid, uri, state, created_at FROM follows WHERE followee_fqid = ?`
	sqlSelectAcceptedFollows = `SELECT id, follower_fqid, followee_fqid, uri, state, created_at FROM follows WHERE state = 'ACCEPTED' ORDER BY created_at`
)

// Inbox records
const (
	sqlInsertInboxRecord = `INSERT INTO inbox_records(object_fqid, recipient_fqid, node_id, received_at) VALUES (?, ?, ?, ?)
                        ON CONFLICT(object_fqid, recipient_fqid) DO NOTHING`
	sqlSelectInboxRecord = `SELECT object_fqid, recipient_fqid, node_id, received_at FROM inbox_records WHERE object_fqid = ? AND recipient_fqid = ?`
)

// Delivery queue
const (
	sqlInsertDelivery = `INSERT INTO delivery_attempts(id, object_fqid, author_fqid, node_id, recipient_fqid, payload, attempts, last_status, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDueDeliveries = `SELECT id, object_fqid, author_fqid, node_id, recipient_fqid, payload, attempts, last_status, next_retry_at, created_at FROM delivery_attempts
                                                        WHERE next_retry_at <= ? ORDER BY created_at LIMIT ?`
	sqlUpdateDeliveryAttempt = `UPDATE delivery_attempts SET attempts = ?, last_status = ?, next_retry_at = ? WHERE id = ?`
	sqlDeferDelivery         = `UPDATE delivery_attempts SET next_retry_at = ? WHERE id = ? AND next_retry_at < ?`
	sqlDeleteDelivery        = `DELETE FROM delivery_attempts WHERE id = ?`
	sqlInsertDeliveryFailure = `INSERT INTO delivery_failures(id, object_fqid, node_id, attempts, last_status, failed_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectDeliveryFailures = `SELECT id, object_fqid, node_id, attempts, last_status, failed_at FROM delivery_failures ORDER BY failed_at DESC LIMIT ?`
)

func (db *DB) UpsertPendingFollow(f *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return db.UpsertPendingFollowTx(tx, f)
	})
}

func (db *DB) UpsertPendingFollowTx(tx *sql.Tx, f *domain.Follow) error {
	_, err := tx.Exec(sqlInsertPendingFollow,
		f.Id.String(),
		f.FollowerFQID,
		f.FolloweeFQID,
		f.URI,
		f.CreatedAt,
	)
	return err
}

func scanFollow(scan func(dest ...interface{}) error) (error, *domain.Follow) {
	var f domain.Follow
	var idStr, state string
	err := scan(&idStr, &f.FollowerFQID, &f.FolloweeFQID, &f.URI, &state, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	f.Id, _ = uuid.Parse(idStr)
	f.State = domain.FollowState(state)
	return nil, &f
}

func (db *DB) ReadFollow(followerFQID, followeeFQID string) (error, *domain.Follow) {
	row := db.db.QueryRow(sqlSelectFollow, followerFQID, followeeFQID)
	return scanFollow(row.Scan)
}

func (db *DB) ReadFollowTx(tx *sql.Tx, followerFQID, followeeFQID string) (error, *domain.Follow) {
	row := tx.QueryRow(sqlSelectFollow, followerFQID, followeeFQID)
	return scanFollow(row.Scan)
}

// AcceptFollowTx transitions a PENDING edge to ACCEPTED. Returns false if no
// pending edge existed, since ACCEPTED can never be created directly.
func (db *DB) AcceptFollowTx(tx *sql.Tx, followerFQID, followeeFQID string) (bool, error) {
	res, err := tx.Exec(sqlAcceptFollow, followerFQID, followeeFQID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *DB) AcceptFollow(followerFQID, followeeFQID string) (bool, error) {
	var ok bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		ok, err = db.AcceptFollowTx(tx, followerFQID, followeeFQID)
		return err
	})
	return ok, err
}

func (db *DB) DeleteFollow(followerFQID, followeeFQID string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return db.DeleteFollowTx(tx, followerFQID, followeeFQID)
	})
}

func (db *DB) DeleteFollowTx(tx *sql.Tx, followerFQID, followeeFQID string) error {
	_, err := tx.Exec(sqlDeleteFollow, followerFQID, followeeFQID)
	return err
}

func (db *DB) readFollows(query string, args ...interface{}) (error, *[]domain.Follow) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.Follow

	for rows.Next() {
		var f domain.Follow
		var idStr, state string
		if err := rows.Scan(&idStr, &f.FollowerFQID, &f.FolloweeFQID, &f.URI, &state, &f.CreatedAt); err != nil {
			return err, &follows
		}
		f.Id, _ = uuid.Parse(idStr)
		f.State = domain.FollowState(state)
		follows = append(follows, f)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}

	return nil, &follows
}

// ReadFollowersOf returns every follow edge pointing at the given author,
// pending edges included.
func (db *DB) ReadFollowersOf(followeeFQID string) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollowersOf, followeeFQID)
}

func (db *DB) ReadAcceptedFollows() (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectAcceptedFollows)
}

// InsertInboxRecordTx writes the dedup record. Returns false when the record
// already existed, which makes the whole delivery an idempotent replay.
func (db *DB) InsertInboxRecordTx(tx *sql.Tx, rec *domain.InboxRecord) (bool, error) {
	res, err := tx.Exec(sqlInsertInboxRecord,
		rec.ObjectFQID,
		rec.RecipientFQID,
		rec.NodeId.String(),
		rec.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *DB) ReadInboxRecord(objectFQID, recipientFQID string) (error, *domain.InboxRecord) {
	row := db.db.QueryRow(sqlSelectInboxRecord, objectFQID, recipientFQID)
	var rec domain.InboxRecord
	var nodeIdStr string
	err := row.Scan(&rec.ObjectFQID, &rec.RecipientFQID, &nodeIdStr, &rec.ReceivedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	rec.NodeId, _ = uuid.Parse(nodeIdStr)
	return nil, &rec
}

func (db *DB) EnqueueDelivery(item *domain.DeliveryAttempt) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			item.Id.String(),
			item.ObjectFQID,
			item.AuthorFQID,
			item.NodeId.String(),
			item.RecipientFQID,
			item.Payload,
			item.Attempts,
			item.LastStatus,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadDueDeliveries(limit int) (error, *[]domain.DeliveryAttempt) {
	rows, err := db.db.Query(sqlSelectDueDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryAttempt

	for rows.Next() {
		var item domain.DeliveryAttempt
		var idStr, nodeIdStr string
		if err := rows.Scan(&idStr, &item.ObjectFQID, &item.AuthorFQID, &nodeIdStr, &item.RecipientFQID, &item.Payload, &item.Attempts, &item.LastStatus, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		item.NodeId, _ = uuid.Parse(nodeIdStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}

	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, lastStatus string, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, lastStatus, nextRetryAt, id.String())
		return err
	})
}

// DeferDelivery pushes an item's next attempt to the given time without
// touching its attempt count. Never moves an item earlier.
func (db *DB) DeferDelivery(id uuid.UUID, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeferDelivery, nextRetryAt, id.String(), nextRetryAt)
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}

func (db *DB) InsertDeliveryFailure(f *domain.DeliveryFailure) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryFailure,
			f.Id.String(),
			f.ObjectFQID,
			f.NodeId.String(),
			f.Attempts,
			f.LastStatus,
			f.FailedAt,
		)
		return err
	})
}

func (db *DB) ReadDeliveryFailures(limit int) (error, *[]domain.DeliveryFailure) {
	rows, err := db.db.Query(sqlSelectDeliveryFailures, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var failures []domain.DeliveryFailure

	for rows.Next() {
		var f domain.DeliveryFailure
		var idStr, nodeIdStr string
		if err := rows.Scan(&idStr, &f.ObjectFQID, &nodeIdStr, &f.Attempts, &f.LastStatus, &f.FailedAt); err != nil {
			return err, &failures
		}
		f.Id, _ = uuid.Parse(idStr)
		f.NodeId, _ = uuid.Parse(nodeIdStr)
		failures = append(failures, f)
	}
	if err = rows.Err(); err != nil {
		return err, &failures
	}

	return nil, &failures
}
