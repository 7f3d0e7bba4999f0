package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/gwsync/internal/model"
)

// SQLiteStore implements the AddressBook interface using a local
// SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// EnsureFolder returns the live folder for the domain, adopting an
// existing one or creating a new one. Adoption unhides the folder and
// re-tags it with the draining account.
func (s *SQLiteStore) EnsureFolder(
	ctx context.Context,
	domain, name string,
	accountID model.AccountID,
) (*model.Folder, error) {
	existing, err := s.FolderForDomain(ctx, domain)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	if existing != nil {
		_, err = s.db.ExecContext(ctx,
			"UPDATE folders SET account_id = ?, hidden = 0 WHERE id = ?",
			string(accountID), existing.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("adopting folder for %s: %w", domain, err)
		}
		existing.AccountID = accountID
		existing.Hidden = false
		return existing, nil
	}

	folder := model.Folder{
		ID:        uuid.New().String(),
		Domain:    domain,
		Name:      name,
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO folders (id, domain, name, account_id, hidden, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		folder.ID, folder.Domain, folder.Name, string(folder.AccountID), folder.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating folder for %s: %w", domain, err)
	}

	return &folder, nil
}

// FolderForDomain returns the live folder for domain, or ErrNotFound.
func (s *SQLiteStore) FolderForDomain(
	ctx context.Context,
	domain string,
) (*model.Folder, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM folders WHERE domain = ? AND deleted_at IS NULL", domain,
	)

	folder, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting folder for %s: %w", domain, err)
	}

	return &folder, nil
}

// ListFolders returns all live address-book folders.
func (s *SQLiteStore) ListFolders(ctx context.Context) ([]model.Folder, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM folders WHERE deleted_at IS NULL ORDER BY domain",
	)
	if err != nil {
		return nil, fmt.Errorf("querying folders: %w", err)
	}
	defer rows.Close()

	var folders []model.Folder
	for rows.Next() {
		f, err := scanFolderRows(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}

	return folders, rows.Err()
}

// DeleteFolder tombstones a folder and every record inside it.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, folderID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, q := range []string{
		`UPDATE contacts SET deleted_at = ? WHERE folder_id = ? AND deleted_at IS NULL`,
		`UPDATE "groups" SET deleted_at = ? WHERE folder_id = ? AND deleted_at IS NULL`,
		`UPDATE folders SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
	} {
		if _, err := tx.ExecContext(ctx, q, now, folderID); err != nil {
			return fmt.Errorf("deleting folder %s: %w", folderID, err)
		}
	}

	return tx.Commit()
}

// CreateContact inserts a new contact record, assigning an ID.
func (s *SQLiteStore) CreateContact(
	ctx context.Context,
	c model.Contact,
) (*model.Contact, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (
			id, origin_id, folder_id, display_name, email, phone, fax,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OriginID, c.FolderID, c.DisplayName, c.Email, c.Phone, c.Fax,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating contact %s: %w", c.OriginID, err)
	}

	return &c, nil
}

// FindContactByOrigin returns the live contact with the given origin id
// in the folder, or ErrNotFound.
func (s *SQLiteStore) FindContactByOrigin(
	ctx context.Context,
	folderID, originID string,
) (*model.Contact, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT * FROM contacts
		WHERE folder_id = ? AND origin_id = ? AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT 1`,
		folderID, originID,
	)

	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting contact %s: %w", originID, err)
	}

	return &c, nil
}

// ListContacts returns all live contacts in a folder.
func (s *SQLiteStore) ListContacts(
	ctx context.Context,
	folderID string,
) ([]model.Contact, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT * FROM contacts
		WHERE folder_id = ? AND deleted_at IS NULL
		ORDER BY display_name`,
		folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanContactRows(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

// ClearContactsByOrigin tombstones all live contacts in the folder
// sharing the origin id.
func (s *SQLiteStore) ClearContactsByOrigin(
	ctx context.Context,
	folderID, originID string,
) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET deleted_at = ?
		WHERE folder_id = ? AND origin_id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), folderID, originID,
	)
	if err != nil {
		return 0, fmt.Errorf("clearing contacts %s: %w", originID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting cleared contacts: %w", err)
	}
	return int(n), nil
}

// CreateGroup inserts a new group record, assigning an ID.
func (s *SQLiteStore) CreateGroup(
	ctx context.Context,
	g model.Group,
) (*model.Group, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "groups" (
			id, origin_id, folder_id, display_name, email, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.OriginID, g.FolderID, g.DisplayName, g.Email, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating group %s: %w", g.OriginID, err)
	}

	return &g, nil
}

// FindGroupByOrigin returns the live group with the given origin id in
// the folder, or ErrNotFound.
func (s *SQLiteStore) FindGroupByOrigin(
	ctx context.Context,
	folderID, originID string,
) (*model.Group, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT * FROM "groups"
		WHERE folder_id = ? AND origin_id = ? AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT 1`,
		folderID, originID,
	)

	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting group %s: %w", originID, err)
	}

	return &g, nil
}

// ListGroups returns all live groups in a folder.
func (s *SQLiteStore) ListGroups(
	ctx context.Context,
	folderID string,
) ([]model.Group, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT * FROM "groups"
		WHERE folder_id = ? AND deleted_at IS NULL
		ORDER BY display_name`,
		folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroupRows(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// AddGroupMember links a resolved member to a group. Re-adding an
// existing member is a no-op.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, m model.GroupMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, kind, member_id)
		VALUES (?, ?, ?)`,
		m.GroupID, string(m.Kind), m.MemberID,
	)
	if err != nil {
		return fmt.Errorf("adding member to group %s: %w", m.GroupID, err)
	}
	return nil
}

// ListGroupMembers returns the members linked to a group.
func (s *SQLiteStore) ListGroupMembers(
	ctx context.Context,
	groupID string,
) ([]model.GroupMember, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT group_id, kind, member_id FROM group_members WHERE group_id = ?",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var members []model.GroupMember
	for rows.Next() {
		var m model.GroupMember
		var kind string
		if err := rows.Scan(&m.GroupID, &kind, &m.MemberID); err != nil {
			return nil, fmt.Errorf("scanning group member row: %w", err)
		}
		m.Kind = model.MemberKind(kind)
		members = append(members, m)
	}

	return members, rows.Err()
}

// DeleteByOrigin tombstones all live contacts and groups in the folder
// sharing the origin id.
func (s *SQLiteStore) DeleteByOrigin(
	ctx context.Context,
	folderID, originID string,
) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var total int64
	for _, q := range []string{
		`UPDATE contacts SET deleted_at = ? WHERE folder_id = ? AND origin_id = ? AND deleted_at IS NULL`,
		`UPDATE "groups" SET deleted_at = ? WHERE folder_id = ? AND origin_id = ? AND deleted_at IS NULL`,
	} {
		res, err := tx.ExecContext(ctx, q, now, folderID, originID)
		if err != nil {
			return 0, fmt.Errorf("deleting records %s: %w", originID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting deleted records: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(total), nil
}

// ClearFolder tombstones every record in the folder, leaving the folder
// itself in place.
func (s *SQLiteStore) ClearFolder(ctx context.Context, folderID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, q := range []string{
		`UPDATE contacts SET deleted_at = ? WHERE folder_id = ? AND deleted_at IS NULL`,
		`UPDATE "groups" SET deleted_at = ? WHERE folder_id = ? AND deleted_at IS NULL`,
	} {
		if _, err := tx.ExecContext(ctx, q, now, folderID); err != nil {
			return fmt.Errorf("clearing folder %s: %w", folderID, err)
		}
	}

	return tx.Commit()
}

// EmptyTrash purges all tombstoned records and folders. Member links of
// purged groups go with them.
func (s *SQLiteStore) EmptyTrash(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, q := range []string{
		`DELETE FROM group_members WHERE group_id IN (SELECT id FROM "groups" WHERE deleted_at IS NOT NULL)`,
		`DELETE FROM group_members WHERE member_id IN (SELECT id FROM contacts WHERE deleted_at IS NOT NULL)
			OR member_id IN (SELECT id FROM "groups" WHERE deleted_at IS NOT NULL)`,
		`DELETE FROM contacts WHERE deleted_at IS NOT NULL`,
		`DELETE FROM "groups" WHERE deleted_at IS NOT NULL`,
		`DELETE FROM folders WHERE deleted_at IS NOT NULL`,
	} {
		res, err := tx.ExecContext(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("emptying trash: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting purged rows: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(total), nil
}

// scanFolder scans a folder row from a sqlx.Row.
func scanFolder(row *sqlx.Row) (model.Folder, error) {
	var (
		f         model.Folder
		accountID string
		hidden    int
		deletedAt sql.NullTime
	)

	err := row.Scan(&f.ID, &f.Domain, &f.Name, &accountID, &hidden, &deletedAt, &f.CreatedAt)
	if err != nil {
		return model.Folder{}, err
	}

	f.AccountID = model.AccountID(accountID)
	f.Hidden = hidden != 0
	return f, nil
}

// scanFolderRows scans a folder row from a sqlx.Rows result set.
func scanFolderRows(rows *sqlx.Rows) (model.Folder, error) {
	var (
		f         model.Folder
		accountID string
		hidden    int
		deletedAt sql.NullTime
	)

	err := rows.Scan(&f.ID, &f.Domain, &f.Name, &accountID, &hidden, &deletedAt, &f.CreatedAt)
	if err != nil {
		return model.Folder{}, fmt.Errorf("scanning folder row: %w", err)
	}

	f.AccountID = model.AccountID(accountID)
	f.Hidden = hidden != 0
	return f, nil
}

// scanContact scans a contact row from a sqlx.Row.
func scanContact(row *sqlx.Row) (model.Contact, error) {
	var (
		c         model.Contact
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&c.ID, &c.OriginID, &c.FolderID, &c.DisplayName, &c.Email,
		&c.Phone, &c.Fax, &deletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Contact{}, err
	}
	return c, nil
}

// scanContactRows scans a contact row from a sqlx.Rows result set.
func scanContactRows(rows *sqlx.Rows) (model.Contact, error) {
	var (
		c         model.Contact
		deletedAt sql.NullTime
	)

	err := rows.Scan(
		&c.ID, &c.OriginID, &c.FolderID, &c.DisplayName, &c.Email,
		&c.Phone, &c.Fax, &deletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Contact{}, fmt.Errorf("scanning contact row: %w", err)
	}
	return c, nil
}

// scanGroup scans a group row from a sqlx.Row.
func scanGroup(row *sqlx.Row) (model.Group, error) {
	var (
		g         model.Group
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&g.ID, &g.OriginID, &g.FolderID, &g.DisplayName, &g.Email,
		&deletedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// scanGroupRows scans a group row from a sqlx.Rows result set.
func scanGroupRows(rows *sqlx.Rows) (model.Group, error) {
	var (
		g         model.Group
		deletedAt sql.NullTime
	)

	err := rows.Scan(
		&g.ID, &g.OriginID, &g.FolderID, &g.DisplayName, &g.Email,
		&deletedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return model.Group{}, fmt.Errorf("scanning group row: %w", err)
	}
	return g, nil
}
