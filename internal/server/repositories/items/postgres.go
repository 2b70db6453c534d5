// Package items provides the PostgreSQL repository for item rows and the
// per-item child tables of a shard.
package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/models"
)

// PostgresRepository implements item storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Child counts skip children sitting in the trash.
const selectPrimary = `
	SELECT I.item_id, I.library_id, I.key, I.item_type_id, I.date_added, I.date_modified,
		I.server_date_modified, I.server_date_modified_ms,
		(SELECT COUNT(*) FROM item_notes N WHERE N.source_item_id = I.item_id
			AND N.item_id NOT IN (SELECT item_id FROM deleted_items)) AS num_notes,
		(SELECT COUNT(*) FROM item_attachments A WHERE A.source_item_id = I.item_id
			AND A.item_id NOT IN (SELECT item_id FROM deleted_items)) AS num_attachments
	FROM items I
`

// updatable lists the primary columns UpdatePrimary accepts.
var updatable = map[string]struct{}{
	"item_type_id":            {},
	"date_added":              {},
	"date_modified":           {},
	"server_date_modified":    {},
	"server_date_modified_ms": {},
}

func scanItem(row *sql.Row) (*models.Item, error) {
	var it models.Item
	err := row.Scan(&it.ID, &it.LibraryID, &it.Key, &it.ItemTypeID, &it.DateAdded, &it.DateModified,
		&it.ServerDateModified, &it.ServerDateModifiedMS, &it.NumNotes, &it.NumAttachments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select item: %w", err)
	}
	return &it, nil
}

// SelectByID returns the primary row of item id or common.ErrorNotFound.
func (r *PostgresRepository) SelectByID(ctx context.Context, id int64) (*models.Item, error) {
	return scanItem(r.db.QueryRowContext(ctx, selectPrimary+` WHERE I.item_id = $1`, id))
}

// SelectByKey returns the primary row addressed by library and key.
func (r *PostgresRepository) SelectByKey(ctx context.Context, libraryID int64, key string) (*models.Item, error) {
	return scanItem(r.db.QueryRowContext(ctx, selectPrimary+` WHERE I.library_id = $1 AND I.key = $2`, libraryID, key))
}

// SelectKey returns the key of item id when it belongs to libraryID.
func (r *PostgresRepository) SelectKey(ctx context.Context, libraryID, id int64) (string, error) {
	var key string
	err := r.db.QueryRowContext(ctx, `SELECT key FROM items WHERE item_id = $1 AND library_id = $2`, id, libraryID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrorNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to select key: %w", err)
	}
	return key, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE item_id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check item: %w", err)
	}
	return ok, nil
}

// InsertPrimary writes a new primary row. Exactly one row must be affected.
func (r *PostgresRepository) InsertPrimary(ctx context.Context, it *models.Item) error {
	query := `
		INSERT INTO items (item_id, library_id, key, item_type_id, date_added, date_modified,
			server_date_modified, server_date_modified_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	res, err := r.db.ExecContext(ctx, query, it.ID, it.LibraryID, it.Key, it.ItemTypeID,
		it.DateAdded, it.DateModified, it.ServerDateModified, it.ServerDateModifiedMS)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// UpdatePrimary sets only the given columns of item id.
func (r *PostgresRepository) UpdatePrimary(ctx context.Context, id int64, set []Column) error {
	if len(set) == 0 {
		return nil
	}
	parts := make([]string, 0, len(set))
	args := make([]any, 0, len(set)+1)
	for i, c := range set {
		if _, ok := updatable[c.Name]; !ok {
			return fmt.Errorf("column %q cannot be updated", c.Name)
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", c.Name, i+1))
		args = append(args, c.Value)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE items SET %s WHERE item_id = $%d`, strings.Join(parts, ", "), len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) SelectGroupItem(ctx context.Context, id int64) (*models.GroupItem, error) {
	var created, modified sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT created_by_user_id, last_modified_by_user_id FROM group_items WHERE item_id = $1`, id).
		Scan(&created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select group item: %w", err)
	}
	return &models.GroupItem{ItemID: id, CreatedByUserID: ptr(created), LastModifiedByUserID: ptr(modified)}, nil
}

func (r *PostgresRepository) InsertGroupItem(ctx context.Context, id, userID int64) error {
	query := `INSERT INTO group_items (item_id, created_by_user_id, last_modified_by_user_id) VALUES ($1, $2, NULL)`
	if _, err := r.db.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// TouchGroupItem records userID as the last modifier.
func (r *PostgresRepository) TouchGroupItem(ctx context.Context, id, userID int64) error {
	query := `
		INSERT INTO group_items (item_id, last_modified_by_user_id) VALUES ($1, $2)
		ON CONFLICT (item_id)
		DO UPDATE SET last_modified_by_user_id = EXCLUDED.last_modified_by_user_id
	`
	if _, err := r.db.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SelectItemData(ctx context.Context, id int64) ([]models.ItemData, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT field_id, hash FROM item_data WHERE item_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select item data: %w", err)
	}
	defer rows.Close()

	var result []models.ItemData
	for rows.Next() {
		var d models.ItemData
		if err := rows.Scan(&d.FieldID, &d.Hash); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SelectUsedFieldIDs(ctx context.Context, id int64) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT field_id FROM item_data WHERE item_id = $1 ORDER BY field_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select used fields: %w", err)
	}
	defer rows.Close()

	var result []int
	for rows.Next() {
		var f int
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertItemData writes rows in a single multi-row statement.
func (r *PostgresRepository) UpsertItemData(ctx context.Context, id int64, rows []models.ItemData) error {
	if len(rows) == 0 {
		return nil
	}
	tuples := make([]string, 0, len(rows))
	args := []any{id}
	for _, d := range rows {
		tuples = append(tuples, fmt.Sprintf("($1, $%d, $%d)", len(args)+1, len(args)+2))
		args = append(args, d.FieldID, d.Hash)
	}
	query := `INSERT INTO item_data (item_id, field_id, hash) VALUES ` + strings.Join(tuples, ", ") +
		` ON CONFLICT (item_id, field_id) DO UPDATE SET hash = EXCLUDED.hash`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteItemData(ctx context.Context, id int64, fieldIDs []int) error {
	if len(fieldIDs) == 0 {
		return nil
	}
	args := []any{id}
	for _, f := range fieldIDs {
		args = append(args, f)
	}
	query := `DELETE FROM item_data WHERE item_id = $1 AND field_id IN (` + placeholders(2, len(fieldIDs)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SelectCreators(ctx context.Context, id int64) ([]models.ItemCreator, error) {
	query := `SELECT creator_id, creator_type_id, order_index FROM item_creators WHERE item_id = $1 ORDER BY order_index`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select creators: %w", err)
	}
	defer rows.Close()

	var result []models.ItemCreator
	for rows.Next() {
		var c models.ItemCreator
		if err := rows.Scan(&c.CreatorID, &c.CreatorTypeID, &c.OrderIndex); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) InsertCreators(ctx context.Context, id int64, rows []models.ItemCreator) error {
	if len(rows) == 0 {
		return nil
	}
	tuples := make([]string, 0, len(rows))
	args := []any{id}
	for _, c := range rows {
		n := len(args)
		tuples = append(tuples, fmt.Sprintf("($1, $%d, $%d, $%d)", n+1, n+2, n+3))
		args = append(args, c.CreatorID, c.CreatorTypeID, c.OrderIndex)
	}
	query := `INSERT INTO item_creators (item_id, creator_id, creator_type_id, order_index) VALUES ` + strings.Join(tuples, ", ")
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteCreatorAt(ctx context.Context, id int64, orderIndex int) error {
	query := `DELETE FROM item_creators WHERE item_id = $1 AND order_index = $2`
	if _, err := r.db.ExecContext(ctx, query, id, orderIndex); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsDeleted(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM deleted_items WHERE item_id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to select deleted flag: %w", err)
	}
	return ok, nil
}

// SetDeleted moves the item into the trash, or out of it.
func (r *PostgresRepository) SetDeleted(ctx context.Context, id int64, deleted bool, at time.Time) error {
	var err error
	if deleted {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO deleted_items (item_id, date_deleted) VALUES ($1, $2) ON CONFLICT (item_id) DO NOTHING`, id, at)
	} else {
		_, err = r.db.ExecContext(ctx, `DELETE FROM deleted_items WHERE item_id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SelectNote(ctx context.Context, id int64) (*models.Note, error) {
	var n models.Note
	var source sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT item_id, source_item_id, note, title, hash FROM item_notes WHERE item_id = $1`, id).
		Scan(&n.ItemID, &source, &n.Note, &n.Title, &n.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select note: %w", err)
	}
	n.SourceItemID = ptr(source)
	return &n, nil
}

func (r *PostgresRepository) UpsertNote(ctx context.Context, n *models.Note) error {
	query := `
		INSERT INTO item_notes (item_id, source_item_id, note, title, hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id)
		DO UPDATE SET
			source_item_id = EXCLUDED.source_item_id,
			note = EXCLUDED.note,
			title = EXCLUDED.title,
			hash = EXCLUDED.hash
	`
	if _, err := r.db.ExecContext(ctx, query, n.ItemID, n.SourceItemID, n.Note, n.Title, n.Hash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateNoteSource(ctx context.Context, id int64, sourceID *int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE item_notes SET source_item_id = $1 WHERE item_id = $2`, sourceID, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SelectNoteIDs lists the child notes of sourceID ordered by title.
func (r *PostgresRepository) SelectNoteIDs(ctx context.Context, sourceID int64) ([]int64, error) {
	return r.selectIDs(ctx, `SELECT item_id FROM item_notes WHERE source_item_id = $1 ORDER BY title, item_id`, sourceID)
}

func (r *PostgresRepository) CountTrashedNotes(ctx context.Context, sourceID int64) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM item_notes N JOIN deleted_items D ON D.item_id = N.item_id
		WHERE N.source_item_id = $1`, sourceID)
}

func (r *PostgresRepository) SelectAttachment(ctx context.Context, id int64) (*models.Attachment, error) {
	var a models.Attachment
	var source, modTime sql.NullInt64
	var storageHash sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT item_id, source_item_id, link_mode, mime_type, charset, path, storage_mod_time, storage_hash
		FROM item_attachments WHERE item_id = $1`, id).
		Scan(&a.ItemID, &source, &a.LinkMode, &a.MIMEType, &a.Charset, &a.Path, &modTime, &storageHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select attachment: %w", err)
	}
	a.SourceItemID = ptr(source)
	a.StorageModTime = ptr(modTime)
	if storageHash.Valid {
		a.StorageHash = &storageHash.String
	}
	return &a, nil
}

func (r *PostgresRepository) UpsertAttachment(ctx context.Context, a *models.Attachment) error {
	query := `
		INSERT INTO item_attachments (item_id, source_item_id, link_mode, mime_type, charset, path,
			storage_mod_time, storage_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (item_id)
		DO UPDATE SET
			source_item_id = EXCLUDED.source_item_id,
			link_mode = EXCLUDED.link_mode,
			mime_type = EXCLUDED.mime_type,
			charset = EXCLUDED.charset,
			path = EXCLUDED.path,
			storage_mod_time = EXCLUDED.storage_mod_time,
			storage_hash = EXCLUDED.storage_hash
	`
	_, err := r.db.ExecContext(ctx, query, a.ItemID, a.SourceItemID, a.LinkMode, a.MIMEType, a.Charset, a.Path,
		a.StorageModTime, a.StorageHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateAttachmentSource(ctx context.Context, id int64, sourceID *int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE item_attachments SET source_item_id = $1 WHERE item_id = $2`, sourceID, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SelectAttachmentIDs(ctx context.Context, sourceID int64) ([]int64, error) {
	return r.selectIDs(ctx, `SELECT item_id FROM item_attachments WHERE source_item_id = $1 ORDER BY item_id`, sourceID)
}

func (r *PostgresRepository) CountTrashedAttachments(ctx context.Context, sourceID int64) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM item_attachments A JOIN deleted_items D ON D.item_id = A.item_id
		WHERE A.source_item_id = $1`, sourceID)
}

func (r *PostgresRepository) SelectRelated(ctx context.Context, id int64) ([]int64, error) {
	return r.selectIDs(ctx, `SELECT related_item_id FROM item_related WHERE item_id = $1 ORDER BY related_item_id`, id)
}

func (r *PostgresRepository) InsertRelated(ctx context.Context, id int64, related []int64) error {
	if len(related) == 0 {
		return nil
	}
	tuples := make([]string, 0, len(related))
	args := []any{id}
	for _, rel := range related {
		args = append(args, rel)
		tuples = append(tuples, fmt.Sprintf("($1, $%d)", len(args)))
	}
	query := `INSERT INTO item_related (item_id, related_item_id) VALUES ` + strings.Join(tuples, ", ")
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteRelated(ctx context.Context, id int64, related []int64) error {
	if len(related) == 0 {
		return nil
	}
	args := []any{id}
	for _, rel := range related {
		args = append(args, rel)
	}
	query := `DELETE FROM item_related WHERE item_id = $1 AND related_item_id IN (` + placeholders(2, len(related)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountTags(ctx context.Context, id int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM item_tags WHERE item_id = $1`, id)
}

// SelectTags returns the tags of item id ordered by name, then type.
func (r *PostgresRepository) SelectTags(ctx context.Context, id int64) ([]models.Tag, error) {
	query := `
		SELECT T.tag_id, T.library_id, T.name, T.type
		FROM tags T JOIN item_tags IT ON IT.tag_id = T.tag_id
		WHERE IT.item_id = $1
		ORDER BY T.name, T.type
	`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select tags: %w", err)
	}
	defer rows.Close()

	var result []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.LibraryID, &t.Name, &t.Type); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// EnsureTag returns the id of the (name, type) tag of a library, creating
// the tag when it does not exist.
func (r *PostgresRepository) EnsureTag(ctx context.Context, libraryID int64, name string, tagType int) (int64, error) {
	query := `
		INSERT INTO tags (library_id, name, type)
		VALUES ($1, $2, $3)
		ON CONFLICT (library_id, name, type)
		DO UPDATE SET name = EXCLUDED.name
		RETURNING tag_id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, libraryID, name, tagType).Scan(&id); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) LinkTags(ctx context.Context, id int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	tuples := make([]string, 0, len(tagIDs))
	args := []any{id}
	for _, tagID := range tagIDs {
		args = append(args, tagID)
		tuples = append(tuples, fmt.Sprintf("($1, $%d)", len(args)))
	}
	query := `INSERT INTO item_tags (item_id, tag_id) VALUES ` + strings.Join(tuples, ", ") + ` ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UnlinkTags(ctx context.Context, id int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	args := []any{id}
	for _, tagID := range tagIDs {
		args = append(args, tagID)
	}
	query := `DELETE FROM item_tags WHERE item_id = $1 AND tag_id IN (` + placeholders(2, len(tagIDs)) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) selectIDs(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select ids: %w", err)
	}
	defer rows.Close()

	var result []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) count(ctx context.Context, query string, arg int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// placeholders renders n positional parameters starting at $start.
func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

func ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
