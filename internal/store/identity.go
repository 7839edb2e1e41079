package store

import (
	"database/sql"
	"strings"
	"time"
)

// CreateIdentity inserts a new identity. The email must be unique.
func (db *DB) CreateIdentity(i *Identity) error {
	now := time.Now().UnixMilli()
	if i.LastSeen == 0 {
		i.LastSeen = now
	}
	_, err := db.Exec(`
		INSERT INTO identities (id, name, email, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		i.ID, i.Name, i.Email, i.LastSeen, now)
	return err
}

// FindIdentityByID returns an identity by id, or nil if it does not exist.
func (db *DB) FindIdentityByID(id string) (*Identity, error) {
	return db.findIdentity(`SELECT id, name, email, last_seen FROM identities WHERE id = ?`, id)
}

// FindIdentityByEmail returns an identity by email, or nil if it does not exist.
func (db *DB) FindIdentityByEmail(email string) (*Identity, error) {
	return db.findIdentity(`SELECT id, name, email, last_seen FROM identities WHERE email = ?`, email)
}

func (db *DB) findIdentity(query string, arg any) (*Identity, error) {
	var i Identity
	err := db.QueryRow(query, arg).Scan(&i.ID, &i.Name, &i.Email, &i.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// ListIdentities returns all identities ordered by name.
func (db *DB) ListIdentities() ([]Identity, error) {
	rows, err := db.Query(`SELECT id, name, email, last_seen FROM identities ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Identity
	for rows.Next() {
		var i Identity
		if err := rows.Scan(&i.ID, &i.Name, &i.Email, &i.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// FindIdentitiesByIDs returns the identities for the given ids. Missing ids
// are simply absent from the result.
func (db *DB) FindIdentitiesByIDs(ids []string) ([]Identity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.Query(`SELECT id, name, email, last_seen FROM identities WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Identity
	for rows.Next() {
		var i Identity
		if err := rows.Scan(&i.ID, &i.Name, &i.Email, &i.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// UpdateLastSeen records the identity's last-seen timestamp.
func (db *DB) UpdateLastSeen(id string, at int64) error {
	_, err := db.Exec(`UPDATE identities SET last_seen = ? WHERE id = ?`, at, id)
	return err
}
