package cli

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/refstore/internal/netx"
	"github.com/dmitrijs2005/refstore/internal/server/items"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
	"github.com/spf13/cobra"
)

func (r *runner) attachCmd() *cobra.Command {
	var parent, mimeType string
	cmd := &cobra.Command{
		Use:   "attach <library> <file>",
		Short: "Import a file as an attachment and upload it to storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			libraryID, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := f.Stat()
			if err != nil {
				return err
			}
			hash, err := fileHash(f)
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(args[1]))
			}

			ctx, userID, err := r.authorize(cmd.Context())
			if err != nil {
				return err
			}
			s, err := r.store()
			if err != nil {
				return err
			}
			it := s.New()
			if err := it.SetLibraryID(libraryID); err != nil {
				return err
			}
			modTime := st.ModTime().UnixMilli()
			steps := []func() (bool, error){
				func() (bool, error) { return it.SetItemTypeID(ctx, schema.TypeAttachment) },
				func() (bool, error) { return it.SetAttachmentLinkMode(ctx, items.LinkModeImportedFile) },
				func() (bool, error) { return it.SetAttachmentPath(ctx, "storage:"+filepath.Base(args[1])) },
				func() (bool, error) { return it.SetAttachmentMIMEType(ctx, mimeType) },
				func() (bool, error) { return it.SetAttachmentStorageHash(ctx, &hash) },
				func() (bool, error) { return it.SetAttachmentStorageModTime(ctx, &modTime) },
				func() (bool, error) { return it.SetField(ctx, "title", filepath.Base(args[1])) },
			}
			if parent != "" {
				steps = append(steps, func() (bool, error) { return it.SetSourceKey(ctx, parent) })
			}
			for _, step := range steps {
				if _, err := step(); err != nil {
					return err
				}
			}
			if _, err := it.Save(ctx, userID); err != nil {
				return err
			}

			url, err := it.AttachmentUploadURL(ctx)
			if err != nil {
				return err
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if err := netx.PutPresigned(ctx, nil, url, f, st.Size(), mimeType); err != nil {
				return fmt.Errorf("item saved, file not uploaded: %w", err)
			}
			return r.print(ctx, it)
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent item key")
	cmd.Flags().StringVar(&mimeType, "mime", "", "content type (default: by file extension)")
	return cmd
}

// fileHash is the storage hash of a file: the hex MD5 of its content.
func fileHash(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
