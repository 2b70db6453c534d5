package items

import (
	"context"
	"time"

	"github.com/dmitrijs2005/refstore/internal/server/models"
)

// Column is one assignment of a partial primary-row update.
type Column struct {
	Name  string
	Value any
}

type Repository interface {
	SelectByID(ctx context.Context, id int64) (*models.Item, error)
	SelectByKey(ctx context.Context, libraryID int64, key string) (*models.Item, error)
	SelectKey(ctx context.Context, libraryID, id int64) (string, error)
	Exists(ctx context.Context, id int64) (bool, error)
	InsertPrimary(ctx context.Context, item *models.Item) error
	UpdatePrimary(ctx context.Context, id int64, set []Column) error

	SelectGroupItem(ctx context.Context, id int64) (*models.GroupItem, error)
	InsertGroupItem(ctx context.Context, id, userID int64) error
	TouchGroupItem(ctx context.Context, id, userID int64) error

	SelectItemData(ctx context.Context, id int64) ([]models.ItemData, error)
	SelectUsedFieldIDs(ctx context.Context, id int64) ([]int, error)
	UpsertItemData(ctx context.Context, id int64, rows []models.ItemData) error
	DeleteItemData(ctx context.Context, id int64, fieldIDs []int) error

	SelectCreators(ctx context.Context, id int64) ([]models.ItemCreator, error)
	InsertCreators(ctx context.Context, id int64, rows []models.ItemCreator) error
	DeleteCreatorAt(ctx context.Context, id int64, orderIndex int) error

	IsDeleted(ctx context.Context, id int64) (bool, error)
	SetDeleted(ctx context.Context, id int64, deleted bool, at time.Time) error

	SelectNote(ctx context.Context, id int64) (*models.Note, error)
	UpsertNote(ctx context.Context, note *models.Note) error
	UpdateNoteSource(ctx context.Context, id int64, sourceID *int64) error
	SelectNoteIDs(ctx context.Context, sourceID int64) ([]int64, error)
	CountTrashedNotes(ctx context.Context, sourceID int64) (int, error)

	SelectAttachment(ctx context.Context, id int64) (*models.Attachment, error)
	UpsertAttachment(ctx context.Context, att *models.Attachment) error
	UpdateAttachmentSource(ctx context.Context, id int64, sourceID *int64) error
	SelectAttachmentIDs(ctx context.Context, sourceID int64) ([]int64, error)
	CountTrashedAttachments(ctx context.Context, sourceID int64) (int, error)

	SelectRelated(ctx context.Context, id int64) ([]int64, error)
	InsertRelated(ctx context.Context, id int64, related []int64) error
	DeleteRelated(ctx context.Context, id int64, related []int64) error

	CountTags(ctx context.Context, id int64) (int, error)
	SelectTags(ctx context.Context, id int64) ([]models.Tag, error)
	EnsureTag(ctx context.Context, libraryID int64, name string, tagType int) (int64, error)
	LinkTags(ctx context.Context, id int64, tagIDs []int64) error
	UnlinkTags(ctx context.Context, id int64, tagIDs []int64) error
}
