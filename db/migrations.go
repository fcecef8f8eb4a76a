package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateAuthorsTable = `CREATE TABLE IF NOT EXISTS authors (
		id TEXT NOT NULL PRIMARY KEY,
		fqid TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		display_name TEXT,
		profile_url TEXT,
		node_id TEXT,
		local INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateAuthorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_authors_fqid ON authors(fqid);
		CREATE INDEX IF NOT EXISTS idx_authors_node_id ON authors(node_id);
		CREATE INDEX IF NOT EXISTS idx_authors_local ON authors(local);
	`

	sqlCreateNodesTable = `CREATE TABLE IF NOT EXISTS nodes (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		base_url TEXT UNIQUE NOT NULL,
		outbound_username TEXT NOT NULL,
		outbound_password TEXT NOT NULL,
		inbound_username TEXT UNIQUE NOT NULL,
		inbound_password_hash TEXT NOT NULL,
		enabled INTEGER DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEntriesTable = `CREATE TABLE IF NOT EXISTS entries (
		id TEXT NOT NULL PRIMARY KEY,
		fqid TEXT UNIQUE NOT NULL,
		author_fqid TEXT NOT NULL,
		title TEXT,
		description TEXT,
		content_type TEXT DEFAULT 'text/plain',
		content TEXT,
		visibility TEXT DEFAULT 'PUBLIC',
		published TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEntriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_entries_author_fqid ON entries(author_fqid);
		CREATE INDEX IF NOT EXISTS idx_entries_visibility ON entries(visibility);
		CREATE INDEX IF NOT EXISTS idx_entries_published ON entries(published DESC);
	`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		fqid TEXT UNIQUE NOT NULL,
		author_fqid TEXT NOT NULL,
		entry_fqid TEXT NOT NULL,
		content TEXT,
		content_type TEXT DEFAULT 'text/plain',
		published TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_comments_entry_fqid ON comments(entry_fqid);
		CREATE INDEX IF NOT EXISTS idx_comments_author_fqid ON comments(author_fqid);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		fqid TEXT UNIQUE NOT NULL,
		author_fqid TEXT NOT NULL,
		object_fqid TEXT NOT NULL,
		published TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(author_fqid, object_fqid)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_object_fqid ON likes(object_fqid);
		CREATE INDEX IF NOT EXISTS idx_likes_author_fqid ON likes(author_fqid);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_fqid TEXT NOT NULL,
		followee_fqid TEXT NOT NULL,
		uri TEXT,
		state TEXT DEFAULT 'PENDING',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_fqid, followee_fqid)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_follower ON follows(follower_fqid);
		CREATE INDEX IF NOT EXISTS idx_follows_followee ON follows(followee_fqid);
		CREATE INDEX IF NOT EXISTS idx_follows_state ON follows(state);
	`

	sqlCreateInboxRecordsTable = `CREATE TABLE IF NOT EXISTS inbox_records (
		object_fqid TEXT NOT NULL,
		recipient_fqid TEXT NOT NULL,
		node_id TEXT,
		received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(object_fqid, recipient_fqid)
	)`

	sqlCreateDeliveryAttemptsTable = `CREATE TABLE IF NOT EXISTS delivery_attempts (
		id TEXT NOT NULL PRIMARY KEY,
		object_fqid TEXT NOT NULL,
		author_fqid TEXT NOT NULL,
		node_id TEXT NOT NULL,
		recipient_fqid TEXT,
		payload TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_status TEXT,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryAttemptsIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_attempts_next_retry ON delivery_attempts(next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_delivery_attempts_node_id ON delivery_attempts(node_id);
	`

	sqlCreateDeliveryFailuresTable = `CREATE TABLE IF NOT EXISTS delivery_failures (
		id TEXT NOT NULL PRIMARY KEY,
		object_fqid TEXT NOT NULL,
		node_id TEXT NOT NULL,
		attempts INTEGER,
		last_status TEXT,
		failed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
)

// Migrate creates all tables and indices.
func (db *DB) Migrate() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			sql  string
			name string
		}{
			{sqlCreateAuthorsTable, "authors"},
			{sqlCreateNodesTable, "nodes"},
			{sqlCreateEntriesTable, "entries"},
			{sqlCreateCommentsTable, "comments"},
			{sqlCreateLikesTable, "likes"},
			{sqlCreateFollowsTable, "follows"},
			{sqlCreateInboxRecordsTable, "inbox_records"},
			{sqlCreateDeliveryAttemptsTable, "delivery_attempts"},
			{sqlCreateDeliveryFailuresTable, "delivery_failures"},
		}

		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.sql, t.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateAuthorsIndices,
			sqlCreateEntriesIndices,
			sqlCreateCommentsIndices,
			sqlCreateLikesIndices,
			sqlCreateFollowsIndices,
			sqlCreateDeliveryAttemptsIndices,
		}

		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
