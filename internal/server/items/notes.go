package items

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/server/interning"
	"golang.org/x/net/html"
)

// MaxNoteTitleLength caps derived note titles, in runes.
const MaxNoteTitleLength = 80

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// NoteToTitle derives a display title from note HTML: the first line of its
// text, cut to MaxNoteTitleLength runes.
func NoteToTitle(note string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(note))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				b.WriteByte('\n')
			}
		}
	}

	text := strings.TrimLeft(b.String(), " \t\r\n")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if utf8.RuneCountInString(text) > MaxNoteTitleLength {
		text = string([]rune(text)[:MaxNoteTitleLength])
	}
	return strings.TrimSpace(text)
}

func noteHash(text string) string {
	if text == "" {
		return ""
	}
	return interning.HashOf(text)
}

func (it *Item) requireNoteCarrier(op string) error {
	if !it.isNote() && !it.isAttachment() {
		return common.Contractf(op, "can only be called on notes and attachments")
	}
	return nil
}

// ensureNote loads the note text, title and hash together.
func (it *Item) ensureNote(ctx context.Context, op string) error {
	if err := it.ensurePrimary(ctx); err != nil {
		return err
	}
	if err := it.requireNoteCarrier(op); err != nil {
		return err
	}
	if it.noteText != nil {
		return nil
	}
	empty := ""
	if it.id == 0 {
		it.noteText = &empty
		return nil
	}

	var text, hash string
	okText, err := getCached(ctx, it.deps, noteCacheKey(it.libraryID, it.id), &text)
	if err != nil {
		it.deps.Logger.Warn(ctx, "note cache read failed", "item_id", it.id, "error", err)
	}
	okHash, err := getCached(ctx, it.deps, noteHashCacheKey(it.libraryID, it.id), &hash)
	if err != nil {
		it.deps.Logger.Warn(ctx, "note hash cache read failed", "item_id", it.id, "error", err)
	}
	if okText && okHash {
		it.noteText, it.noteTitle, it.noteHash = &text, NoteToTitle(text), hash
		return nil
	}

	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return err
	}
	n, err := it.deps.Repos.Items(db).SelectNote(ctx, it.id)
	if errors.Is(err, common.ErrorNotFound) {
		it.noteText = &empty
		return nil
	}
	if err != nil {
		return err
	}
	it.noteText, it.noteTitle, it.noteHash = &n.Note, n.Title, n.Hash
	if !it.source.known && it.isNote() {
		it.source = sourceRef{known: true}
		if n.SourceItemID != nil {
			it.source.id = *n.SourceItemID
		}
	}
	it.cacheNote(ctx)
	return nil
}

func (it *Item) cacheNote(ctx context.Context) {
	setCached(ctx, it.deps, noteCacheKey(it.libraryID, it.id), *it.noteText)
	setCached(ctx, it.deps, noteHashCacheKey(it.libraryID, it.id), it.noteHash)
}

// NoteText returns the HTML of a note, or the embedded note of an attachment.
func (it *Item) NoteText(ctx context.Context) (string, error) {
	if err := it.ensureNote(ctx, "NoteText"); err != nil {
		return "", err
	}
	return *it.noteText, nil
}

// NoteTitle returns the title derived from the note text.
func (it *Item) NoteTitle(ctx context.Context) (string, error) {
	if err := it.ensureNote(ctx, "NoteTitle"); err != nil {
		return "", err
	}
	return it.noteTitle, nil
}

// NoteHash returns the MD5 of the note text, or "" for an empty note.
func (it *Item) NoteHash(ctx context.Context) (string, error) {
	if err := it.ensureNote(ctx, "NoteHash"); err != nil {
		return "", err
	}
	return it.noteHash, nil
}

// SetNote replaces the note text. Texts are compared by hash.
func (it *Item) SetNote(ctx context.Context, text string) (bool, error) {
	current, err := it.NoteHash(ctx)
	if err != nil {
		return false, err
	}
	hash := noteHash(text)
	if current == hash {
		it.ctxLog(ctx, "note text unchanged")
		return false, nil
	}
	it.state[resPrimary] = loaded
	it.noteText, it.noteTitle, it.noteHash = &text, NoteToTitle(text), hash
	it.changes.note = true
	return true, nil
}
