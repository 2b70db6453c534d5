package items

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/refstore/internal/server/schema"
)

const (
	typeLetter    schema.ItemTypeID = 8
	typeInterview schema.ItemTypeID = 10
	typeCase      schema.ItemTypeID = 17

	roleInterviewee schema.CreatorTypeID = 6
	roleInterviewer schema.CreatorTypeID = 7
	roleRecipient   schema.CreatorTypeID = 16
)

// DisplayTitle returns the title shown in item lists. Untitled letters and
// interviews get a bracketed description built from their participants, and
// cases carry their reporter.
func (it *Item) DisplayTitle(ctx context.Context, includeAuthorAndDate bool) (string, error) {
	title, err := it.GetField(ctx, "title", IncludeBaseMapped, SkipValidation)
	if err != nil {
		return "", err
	}
	typeID := it.itemTypeID

	if title == "" && (typeID == typeLetter || typeID == typeInterview) {
		return it.participantTitle(ctx, typeID, includeAuthorAndDate)
	}
	if typeID == typeCase && title != "" {
		reporter, err := it.GetFieldByID(ctx, schema.FieldReporter, SkipValidation)
		if err != nil {
			return "", err
		}
		if reporter != "" {
			title = fmt.Sprintf("%s (%s)", title, reporter)
		}
	}
	return title, nil
}

func (it *Item) participantTitle(ctx context.Context, typeID schema.ItemTypeID, includeAuthorAndDate bool) (string, error) {
	creators, err := it.Creators(ctx)
	if err != nil {
		return "", err
	}

	participantRole, authorRole := roleRecipient, schema.CreatorAuthor
	if typeID == typeInterview {
		participantRole, authorRole = roleInterviewer, roleInterviewee
	}
	var authors, participants []string
	for _, c := range creators {
		switch c.CreatorTypeID {
		case participantRole:
			participants = append(participants, c.Ref.LastName())
		case authorRole:
			authors = append(authors, c.Ref.LastName())
		}
	}

	var parts []string
	if includeAuthorAndDate && len(authors) > 0 {
		parts = append(parts, strings.Join(authors, ", "))
	}

	label := it.deps.Schema.ItemTypeLabel(typeID)
	if len(participants) > 0 {
		joiner := " to "
		if typeID == typeInterview {
			joiner = " by "
		}
		parts = append(parts, label+joiner+joinParticipants(participants))
	} else {
		parts = append(parts, label)
	}

	if includeAuthorAndDate {
		date, err := it.GetFieldByID(ctx, schema.FieldDate, SkipValidation)
		if err != nil {
			return "", err
		}
		if date != "" {
			parts = append(parts, date)
		}
	}
	return "[" + strings.Join(parts, "; ") + "]", nil
}

func joinParticipants(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	case 3:
		return names[0] + ", " + names[1] + ", and " + names[2]
	default:
		return names[0] + " et al."
	}
}
