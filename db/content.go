package db

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/vireonet/vireo/domain"
)

// Entries
const (
	// Content fields follow the origin node: last writer wins on replay of an
	// updated entry. The id and published timestamp stay as first observed.
	sqlUpsertEntry = `INSERT INTO entries(id, fqid, author_fqid, title, description, content_type, content, visibility, published, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                        ON CONFLICT(fqid) DO UPDATE SET title = excluded.title, description = excluded.description, content_type = excluded.content_type, content = excluded.content, visibility = excluded.visibility, updated = excluded.updated`
	sqlSelectEntryByFQID = `SELECT id, fqid, author_fqid, title, description, content_type, content, visibility, published, updated FROM entries WHERE fqid = ?`
	sqlSelectEntriesByAuthor = `SELECT id, fqid, author_fqid, title, description, content_type, content, visibility, published, updated FROM entries
                                                        WHERE author_fqid = ? AND visibility != 'DELETED'
                                                        ORDER BY published DESC LIMIT ? OFFSET ?`
	sqlSelectPublicEntries = `SELECT id, fqid, author_fqid, title, description, content_type, content, visibility, published, updated FROM entries
                                                        WHERE visibility = 'PUBLIC'
                                                        ORDER BY published DESC LIMIT ? OFFSET ?`
	sqlSelectPublicEntriesByAuthor = `SELECT id, fqid, author_fqid, title, description, content_type, content, visibility, published, updated FROM entries
                                                        WHERE author_fqid = ? AND visibility = 'PUBLIC'
                                                        ORDER BY published DESC LIMIT ? OFFSET ?`
	sqlCountEntriesByAuthor       = `SELECT COUNT(*) FROM entries WHERE author_fqid = ? AND visibility != 'DELETED'`
	sqlCountPublicEntriesByAuthor = `SELECT COUNT(*) FROM entries WHERE author_fqid = ? AND visibility = 'PUBLIC'`
)

// Comments
const (
	sqlUpsertComment = `INSERT INTO comments(id, fqid, author_fqid, entry_fqid, content, content_type, published) VALUES (?, ?, ?, ?, ?, ?, ?)
                        ON CONFLICT(fqid) DO UPDATE SET content = excluded.content, content_type = excluded.content_type`
	sqlSelectCommentByFQID = `SELECT id, fqid, author_fqid, entry_fqid, content, content_type, published FROM comments WHERE fqid = ?`
	sqlSelectCommentsByEntry = `SELECT id, fqid, author_fqid, entry_fqid, content, content_type, published FROM comments
                                                        WHERE entry_fqid = ? ORDER BY published LIMIT ? OFFSET ?`
	sqlCountCommentsByEntry = `SELECT COUNT(*) FROM comments WHERE entry_fqid = ?`
)

// Likes
const (
	// The (author_fqid, object_fqid) unique index makes a replayed or
	// re-minted like a no-op instead of a double count.
	sqlInsertLike = `INSERT INTO likes(id, fqid, author_fqid, object_fqid, published) VALUES (?, ?, ?, ?, ?)
                        ON CONFLICT(author_fqid, object_fqid) DO NOTHING`
	sqlSelectLikeByFQID = `SELECT id, fqid, author_fqid, object_fqid, published FROM likes WHERE fqid = ?`
	sqlSelectLikesByObject = `SELECT id, fqid, author_fqid, object_fqid, published FROM likes
                                                        WHERE object_fqid = ? ORDER BY published LIMIT ? OFFSET ?`
	sqlCountLikesByObject = `SELECT COUNT(*) FROM likes WHERE object_fqid = ?`
)

func (db *DB) UpsertEntry(e *domain.Entry) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return db.UpsertEntryTx(tx, e)
	})
}

func (db *DB) UpsertEntryTx(tx *sql.Tx, e *domain.Entry) error {
	_, err := tx.Exec(sqlUpsertEntry,
		e.Id.String(),
		e.FQID,
		e.AuthorFQID,
		e.Title,
		e.Description,
		e.ContentType,
		e.Content,
		string(e.Visibility),
		e.Published,
		e.Updated,
	)
	return err
}

func scanEntry(row *sql.Row) (error, *domain.Entry) {
	var e domain.Entry
	var idStr, visibility string
	err := row.Scan(&idStr, &e.FQID, &e.AuthorFQID, &e.Title, &e.Description, &e.ContentType, &e.Content, &visibility, &e.Published, &e.Updated)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	e.Id, _ = uuid.Parse(idStr)
	e.Visibility = domain.Visibility(visibility)
	return nil, &e
}

func (db *DB) ReadEntryByFQID(fqid string) (error, *domain.Entry) {
	return scanEntry(db.db.QueryRow(sqlSelectEntryByFQID, fqid))
}

func (db *DB) readEntries(query string, args ...interface{}) (error, *[]domain.Entry) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var entries []domain.Entry

	for rows.Next() {
		var e domain.Entry
		var idStr, visibility string
		if err := rows.Scan(&idStr, &e.FQID, &e.AuthorFQID, &e.Title, &e.Description, &e.ContentType, &e.Content, &visibility, &e.Published, &e.Updated); err != nil {
			return err, &entries
		}
		e.Id, _ = uuid.Parse(idStr)
		e.Visibility = domain.Visibility(visibility)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return err, &entries
	}

	return nil, &entries
}

func (db *DB) ReadEntriesByAuthor(authorFQID string, page, size int) (error, *[]domain.Entry) {
	return db.readEntries(sqlSelectEntriesByAuthor, authorFQID, size, (page-1)*size)
}

func (db *DB) ReadPublicEntriesByAuthor(authorFQID string, page, size int) (error, *[]domain.Entry) {
	return db.readEntries(sqlSelectPublicEntriesByAuthor, authorFQID, size, (page-1)*size)
}

func (db *DB) ReadPublicEntries(page, size int) (error, *[]domain.Entry) {
	return db.readEntries(sqlSelectPublicEntries, size, (page-1)*size)
}

func (db *DB) CountEntriesByAuthor(authorFQID string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountEntriesByAuthor, authorFQID).Scan(&count)
	return err, count
}

func (db *DB) CountPublicEntriesByAuthor(authorFQID string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountPublicEntriesByAuthor, authorFQID).Scan(&count)
	return err, count
}

func (db *DB) UpsertComment(c *domain.Comment) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return db.UpsertCommentTx(tx, c)
	})
}

func (db *DB) UpsertCommentTx(tx *sql.Tx, c *domain.Comment) error {
	_, err := tx.Exec(sqlUpsertComment,
		c.Id.String(),
		c.FQID,
		c.AuthorFQID,
		c.EntryFQID,
		c.Content,
		c.ContentType,
		c.Published,
	)
	return err
}

func scanComment(row *sql.Row) (error, *domain.Comment) {
	var c domain.Comment
	var idStr string
	err := row.Scan(&idStr, &c.FQID, &c.AuthorFQID, &c.EntryFQID, &c.Content, &c.ContentType, &c.Published)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	c.Id, _ = uuid.Parse(idStr)
	return nil, &c
}

func (db *DB) ReadCommentByFQID(fqid string) (error, *domain.Comment) {
	return scanComment(db.db.QueryRow(sqlSelectCommentByFQID, fqid))
}

func (db *DB) ReadCommentsByEntry(entryFQID string, page, size int) (error, *[]domain.Comment) {
	rows, err := db.db.Query(sqlSelectCommentsByEntry, entryFQID, size, (page-1)*size)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var comments []domain.Comment

	for rows.Next() {
		var c domain.Comment
		var idStr string
		if err := rows.Scan(&idStr, &c.FQID, &c.AuthorFQID, &c.EntryFQID, &c.Content, &c.ContentType, &c.Published); err != nil {
			return err, &comments
		}
		c.Id, _ = uuid.Parse(idStr)
		comments = append(comments, c)
	}
	if err = rows.Err(); err != nil {
		return err, &comments
	}

	return nil, &comments
}

func (db *DB) CountCommentsByEntry(entryFQID string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountCommentsByEntry, entryFQID).Scan(&count)
	return err, count
}

func (db *DB) InsertLike(l *domain.Like) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		return db.InsertLikeTx(tx, l)
	})
}

func (db *DB) InsertLikeTx(tx *sql.Tx, l *domain.Like) error {
	_, err := tx.Exec(sqlInsertLike,
		l.Id.String(),
		l.FQID,
		l.AuthorFQID,
		l.ObjectFQID,
		l.Published,
	)
	return err
}

func (db *DB) ReadLikeByFQID(fqid string) (error, *domain.Like) {
	row := db.db.QueryRow(sqlSelectLikeByFQID, fqid)
	var l domain.Like
	var idStr string
	err := row.Scan(&idStr, &l.FQID, &l.AuthorFQID, &l.ObjectFQID, &l.Published)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	l.Id, _ = uuid.Parse(idStr)
	return nil, &l
}

func (db *DB) ReadLikesByObject(objectFQID string, page, size int) (error, *[]domain.Like) {
	rows, err := db.db.Query(sqlSelectLikesByObject, objectFQID, size, (page-1)*size)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var likes []domain.Like

	for rows.Next() {
		var l domain.Like
		var idStr string
		if err := rows.Scan(&idStr, &l.FQID, &l.AuthorFQID, &l.ObjectFQID, &l.Published); err != nil {
			return err, &likes
		}
		l.Id, _ = uuid.Parse(idStr)
		likes = append(likes, l)
	}
	if err = rows.Err(); err != nil {
		return err, &likes
	}

	return nil, &likes
}

func (db *DB) CountLikesByObject(objectFQID string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountLikesByObject, objectFQID).Scan(&count)
	return err, count
}
