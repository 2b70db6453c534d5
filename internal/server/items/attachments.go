package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/server/models"
)

// Attachment link modes.
const (
	LinkModeImportedFile = 0
	LinkModeImportedURL  = 1
	LinkModeLinkedFile   = 2
	LinkModeLinkedURL    = 3
)

func (it *Item) ensureAttachment(ctx context.Context) error {
	if it.attachment != nil {
		return nil
	}
	it.attachment = &models.Attachment{ItemID: it.id}
	if it.id == 0 {
		return nil
	}
	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		it.attachment = nil
		return err
	}
	a, err := it.deps.Repos.Items(db).SelectAttachment(ctx, it.id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		it.attachment = nil
		return err
	}
	it.attachment = a
	return nil
}

// attachmentData loads the attachment row of an attachment item.
func (it *Item) attachmentData(ctx context.Context, op string) (*models.Attachment, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return nil, err
	}
	if !it.isAttachment() {
		return nil, common.Contractf(op, "can only be used on attachment items")
	}
	if err := it.ensureAttachment(ctx); err != nil {
		return nil, err
	}
	return it.attachment, nil
}

func (it *Item) AttachmentLinkMode(ctx context.Context) (int, error) {
	a, err := it.attachmentData(ctx, "AttachmentLinkMode")
	if err != nil {
		return 0, err
	}
	return a.LinkMode, nil
}

func (it *Item) AttachmentMIMEType(ctx context.Context) (string, error) {
	a, err := it.attachmentData(ctx, "AttachmentMIMEType")
	if err != nil {
		return "", err
	}
	return a.MIMEType, nil
}

func (it *Item) AttachmentCharset(ctx context.Context) (string, error) {
	a, err := it.attachmentData(ctx, "AttachmentCharset")
	if err != nil {
		return "", err
	}
	return a.Charset, nil
}

func (it *Item) AttachmentPath(ctx context.Context) (string, error) {
	a, err := it.attachmentData(ctx, "AttachmentPath")
	if err != nil {
		return "", err
	}
	return a.Path, nil
}

// AttachmentStorageModTime returns the file modification time in ms, or nil.
func (it *Item) AttachmentStorageModTime(ctx context.Context) (*int64, error) {
	a, err := it.attachmentData(ctx, "AttachmentStorageModTime")
	if err != nil {
		return nil, err
	}
	return a.StorageModTime, nil
}

// AttachmentStorageHash returns the MD5 of the stored file, or nil.
func (it *Item) AttachmentStorageHash(ctx context.Context) (*string, error) {
	a, err := it.attachmentData(ctx, "AttachmentStorageHash")
	if err != nil {
		return nil, err
	}
	return a.StorageHash, nil
}

func (it *Item) SetAttachmentLinkMode(ctx context.Context, mode int) (bool, error) {
	switch mode {
	case LinkModeImportedFile, LinkModeImportedURL, LinkModeLinkedFile, LinkModeLinkedURL:
	default:
		return false, fmt.Errorf("attachment link mode %d: %w", mode, common.ErrInvalidInput)
	}
	return it.setAttachmentField(ctx, "linkMode", func(a *models.Attachment) bool {
		if a.LinkMode == mode {
			return false
		}
		a.LinkMode = mode
		return true
	})
}

func (it *Item) SetAttachmentMIMEType(ctx context.Context, mimeType string) (bool, error) {
	return it.setAttachmentField(ctx, "mimeType", setString(func(a *models.Attachment) *string { return &a.MIMEType }, mimeType))
}

func (it *Item) SetAttachmentCharset(ctx context.Context, charset string) (bool, error) {
	return it.setAttachmentField(ctx, "charset", setString(func(a *models.Attachment) *string { return &a.Charset }, charset))
}

func (it *Item) SetAttachmentPath(ctx context.Context, path string) (bool, error) {
	return it.setAttachmentField(ctx, "path", setString(func(a *models.Attachment) *string { return &a.Path }, path))
}

func (it *Item) SetAttachmentStorageModTime(ctx context.Context, modTime *int64) (bool, error) {
	return it.setAttachmentField(ctx, "storageModTime", func(a *models.Attachment) bool {
		if equalPtr(a.StorageModTime, modTime) {
			return false
		}
		a.StorageModTime = clonePtr(modTime)
		return true
	})
}

func (it *Item) SetAttachmentStorageHash(ctx context.Context, hash *string) (bool, error) {
	return it.setAttachmentField(ctx, "storageHash", func(a *models.Attachment) bool {
		if equalPtr(a.StorageHash, hash) {
			return false
		}
		a.StorageHash = clonePtr(hash)
		return true
	})
}

func (it *Item) setAttachmentField(ctx context.Context, field string, apply func(*models.Attachment) bool) (bool, error) {
	if err := it.touchPrimary(ctx); err != nil {
		return false, err
	}
	a, err := it.attachmentData(ctx, "SetAttachment")
	if err != nil {
		return false, err
	}
	if !apply(a) {
		return false, nil
	}
	it.changes.attachment[field] = true
	return true, nil
}

func setString(field func(*models.Attachment) *string, v string) func(*models.Attachment) bool {
	return func(a *models.Attachment) bool {
		p := field(a)
		if *p == v {
			return false
		}
		*p = v
		return true
	}
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IsImportedAttachment reports whether the item is an attachment whose file
// lives in storage rather than at a linked location.
func (it *Item) IsImportedAttachment(ctx context.Context) (bool, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return false, err
	}
	if !it.isAttachment() {
		return false, nil
	}
	mode, err := it.AttachmentLinkMode(ctx)
	if err != nil {
		return false, err
	}
	return mode == LinkModeImportedFile || mode == LinkModeImportedURL, nil
}

// AttachmentUploadURL returns a presigned URL for uploading the stored file.
func (it *Item) AttachmentUploadURL(ctx context.Context) (string, error) {
	hash, err := it.storedFileHash(ctx, "AttachmentUploadURL")
	if err != nil {
		return "", err
	}
	return it.deps.Files.UploadURL(ctx, it.libraryID, hash)
}

// AttachmentDownloadURL returns a presigned URL for fetching the stored file.
func (it *Item) AttachmentDownloadURL(ctx context.Context) (string, error) {
	hash, err := it.storedFileHash(ctx, "AttachmentDownloadURL")
	if err != nil {
		return "", err
	}
	return it.deps.Files.DownloadURL(ctx, it.libraryID, hash)
}

func (it *Item) storedFileHash(ctx context.Context, op string) (string, error) {
	if it.deps.Files == nil {
		return "", common.Contractf(op, "file storage not configured")
	}
	imported, err := it.IsImportedAttachment(ctx)
	if err != nil {
		return "", err
	}
	if !imported {
		return "", common.Contractf(op, "item %d is not an imported attachment", it.id)
	}
	hash, err := it.AttachmentStorageHash(ctx)
	if err != nil {
		return "", err
	}
	if hash == nil || *hash == "" {
		return "", fmt.Errorf("item %d has no stored file: %w", it.id, common.ErrorNotFound)
	}
	return *hash, nil
}
