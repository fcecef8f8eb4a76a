package db

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/util"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

var (
	dbInstance *DB
	dbOnce     sync.Once
)

const DatabaseFileName = "vireo.db"

// Authors
const (
	sqlInsertAuthor = `INSERT INTO authors(id, fqid, username, display_name, profile_url, node_id, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	// Remote author replicas are cache refreshes keyed by FQID, never
	// authoritative edits.
	sqlUpsertAuthor = `INSERT INTO authors(id, fqid, username, display_name, profile_url, node_id, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                        ON CONFLICT(fqid) DO UPDATE SET username = excluded.username, display_name = excluded.display_name, profile_url = excluded.profile_url`
	sqlSelectAuthorByFQID    = `SELECT id, fqid, username, display_name, profile_url, node_id, local, created_at FROM authors WHERE fqid = ?`
	sqlSelectAuthorById      = `SELECT id, fqid, username, display_name, profile_url, node_id, local, created_at FROM authors WHERE id = ?`
	sqlSelectLocalAuthors    = `SELECT id, fqid, username, display_name, profile_url, node_id, local, created_at FROM authors WHERE local = 1 ORDER BY created_at`
	sqlSelectLocalAuthorPage = `SELECT id, fqid, username, display_name, profile_url, node_id, local, created_at FROM authors WHERE local = 1 ORDER BY created_at LIMIT ? OFFSET ?`
	sqlCountLocalAuthors     = `SELECT COUNT(*) FROM authors WHERE local = 1`
)

// Nodes
const (
	sqlInsertNode = `INSERT INTO nodes(id, name, base_url, outbound_username, outbound_password, inbound_username, inbound_password_hash, enabled, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateNode = `UPDATE nodes SET name = ?, base_url = ?, outbound_username = ?, outbound_password = ?, inbound_username = ?, inbound_password_hash = ?, enabled = ? WHERE id = ?`
	sqlUpdateNodeEnabled = `UPDATE nodes SET enabled = ? WHERE id = ?`
	sqlDeleteNode        = `DELETE FROM nodes WHERE id = ?`
	sqlSelectAllNodes    = `SELECT id, name, base_url, outbound_username, outbound_password, inbound_username, inbound_password_hash, enabled, created_at FROM nodes ORDER BY name`
)

func GetDB() *DB {
	dbOnce.Do(func() {
		database, err := Open(util.ResolveFilePath(DatabaseFileName))
		if err != nil {
			panic(err)
		}
		dbInstance = database
	})

	return dbInstance
}

// Open opens a SQLite database at the given path and tunes it for the
// concurrent inbox/dispatcher workload.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	db.Exec("PRAGMA synchronous = NORMAL")
	db.Exec("PRAGMA temp_store = MEMORY")
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: db}, nil
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// InTx exposes the transaction wrapper so the inbox processor can run its
// dedup check and apply step atomically per (object FQID, recipient FQID).
func (db *DB) InTx(f func(tx *sql.Tx) error) error {
	return db.wrapTransaction(f)
}

func (db *DB) CreateAuthor(a *domain.Author) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAuthor,
			a.Id.String(),
			a.FQID,
			a.Username,
			a.DisplayName,
			a.ProfileURL,
			a.NodeId.String(),
			a.Local,
			a.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpsertRemoteAuthor(a *domain.Author) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return db.UpsertRemoteAuthorTx(tx, a)
	})
}

func (db *DB) UpsertRemoteAuthorTx(tx *sql.Tx, a *domain.Author) error {
	_, err := tx.Exec(sqlUpsertAuthor,
		a.Id.String(),
		a.FQID,
		a.Username,
		a.DisplayName,
		a.ProfileURL,
		a.NodeId.String(),
		a.Local,
		a.CreatedAt,
	)
	return err
}

func scanAuthor(row *sql.Row) (error, *domain.Author) {
	var a domain.Author
	var idStr, nodeIdStr string
	err := row.Scan(&idStr, &a.FQID, &a.Username, &a.DisplayName, &a.ProfileURL, &nodeIdStr, &a.Local, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	a.Id, _ = uuid.Parse(idStr)
	a.NodeId, _ = uuid.Parse(nodeIdStr)
	return nil, &a
}

func (db *DB) ReadAuthorByFQID(fqid string) (error, *domain.Author) {
	return scanAuthor(db.db.QueryRow(sqlSelectAuthorByFQID, fqid))
}

func (db *DB) ReadAuthorById(id uuid.UUID) (error, *domain.Author) {
	return scanAuthor(db.db.QueryRow(sqlSelectAuthorById, id.String()))
}

func (db *DB) readAuthors(query string, args ...interface{}) (error, *[]domain.Author) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var authors []domain.Author

	for rows.Next() {
		var a domain.Author
		var idStr, nodeIdStr string
		if err := rows.Scan(&idStr, &a.FQID, &a.Username, &a.DisplayName, &a.ProfileURL, &nodeIdStr, &a.Local, &a.CreatedAt); err != nil {
			return err, &authors
		}
		a.Id, _ = uuid.Parse(idStr)
		a.NodeId, _ = uuid.Parse(nodeIdStr)
		authors = append(authors, a)
	}
	if err = rows.Err(); err != nil {
		return err, &authors
	}

	return nil, &authors
}

func (db *DB) ReadLocalAuthors() (error, *[]domain.Author) {
	return db.readAuthors(sqlSelectLocalAuthors)
}

func (db *DB) ReadLocalAuthorPage(page, size int) (error, *[]domain.Author) {
	return db.readAuthors(sqlSelectLocalAuthorPage, size, (page-1)*size)
}

func (db *DB) CountLocalAuthors() (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLocalAuthors).Scan(&count)
	return err, count
}

func (db *DB) CreateNode(n *domain.Node) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNode,
			n.Id.String(),
			n.Name,
			domain.NormalizeBaseURL(n.BaseURL),
			n.OutboundUsername,
			n.OutboundPassword,
			n.InboundUsername,
			n.InboundPasswordHash,
			n.Enabled,
			n.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpdateNode(n *domain.Node) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateNode,
			n.Name,
			domain.NormalizeBaseURL(n.BaseURL),
			n.OutboundUsername,
			n.OutboundPassword,
			n.InboundUsername,
			n.InboundPasswordHash,
			n.Enabled,
			n.Id.String(),
		)
		return err
	})
}

func (db *DB) SetNodeEnabled(id uuid.UUID, enabled bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateNodeEnabled, enabled, id.String())
		return err
	})
}

func (db *DB) DeleteNode(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNode, id.String())
		return err
	})
}

func (db *DB) ReadAllNodes() (error, *[]domain.Node) {
	rows, err := db.db.Query(sqlSelectAllNodes)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var nodes []domain.Node

	for rows.Next() {
		var n domain.Node
		var idStr string
		if err := rows.Scan(&idStr, &n.Name, &n.BaseURL, &n.OutboundUsername, &n.OutboundPassword, &n.InboundUsername, &n.InboundPasswordHash, &n.Enabled, &n.CreatedAt); err != nil {
			return err, &nodes
		}
		n.Id, _ = uuid.Parse(idStr)
		nodes = append(nodes, n)
	}
	if err = rows.Err(); err != nil {
		return err, &nodes
	}

	return nil, &nodes
}
