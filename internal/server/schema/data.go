package schema

// Field ids the item code refers to by constant.
const (
	FieldURL         FieldID = 1
	FieldPublisher   FieldID = 8
	FieldDate        FieldID = 14
	FieldAccessDate  FieldID = 27
	FieldReporter    FieldID = 58
	FieldAbstract    FieldID = 90
	FieldCaseName    FieldID = 96
	FieldDateDecided FieldID = 97
	FieldIssueDate   FieldID = 98
	FieldTitle       FieldID = 110
)

var builtinFields = []FieldDef{
	{1, "url", "URL"},
	{2, "rights", "Rights"},
	{3, "series", "Series"},
	{4, "volume", "Volume"},
	{5, "issue", "Issue"},
	{6, "edition", "Edition"},
	{7, "place", "Place"},
	{8, "publisher", "Publisher"},
	{10, "pages", "Pages"},
	{11, "ISBN", "ISBN"},
	{12, "publicationTitle", "Publication"},
	{13, "ISSN", "ISSN"},
	{14, "date", "Date"},
	{15, "section", "Section"},
	{18, "callNumber", "Call Number"},
	{19, "archiveLocation", "Loc. in Archive"},
	{22, "extra", "Extra"},
	{25, "journalAbbreviation", "Journal Abbr"},
	{26, "DOI", "DOI"},
	{27, "accessDate", "Accessed"},
	{28, "seriesTitle", "Series Title"},
	{36, "letterType", "Type"},
	{37, "interviewMedium", "Medium"},
	{38, "websiteTitle", "Website Title"},
	{39, "websiteType", "Website Type"},
	{42, "numPages", "# of Pages"},
	{43, "reportNumber", "Report Number"},
	{44, "reportType", "Report Type"},
	{45, "thesisType", "Type"},
	{46, "runningTime", "Running Time"},
	{47, "genre", "Genre"},
	{48, "audioRecordingFormat", "Format"},
	{49, "videoRecordingFormat", "Format"},
	{50, "versionNumber", "Version"},
	{51, "system", "Platform"},
	{52, "patentNumber", "Patent Number"},
	{53, "filingDate", "Filing Date"},
	{54, "assignee", "Assignee"},
	{55, "country", "Country"},
	{56, "court", "Court"},
	{57, "docketNumber", "Docket Number"},
	{58, "reporter", "Reporter"},
	{59, "programmingLanguage", "Prog. Language"},
	{60, "bookTitle", "Book Title"},
	{61, "shortTitle", "Short Title"},
	{62, "libraryCatalog", "Library Catalog"},
	{69, "university", "University"},
	{72, "label", "Label"},
	{76, "studio", "Studio"},
	{78, "distributor", "Distributor"},
	{80, "institution", "Institution"},
	{82, "company", "Company"},
	{87, "language", "Language"},
	{90, "abstractNote", "Abstract"},
	{96, "caseName", "Case Name"},
	{97, "dateDecided", "Date Decided"},
	{98, "issueDate", "Issue Date"},
	{110, "title", "Title"},
}

var builtinCreatorTypes = []CreatorTypeDef{
	{1, "author", "Author"},
	{2, "contributor", "Contributor"},
	{3, "editor", "Editor"},
	{4, "translator", "Translator"},
	{5, "seriesEditor", "Series Editor"},
	{6, "interviewee", "Interview With"},
	{7, "interviewer", "Interviewer"},
	{8, "director", "Director"},
	{9, "scriptwriter", "Scriptwriter"},
	{10, "producer", "Producer"},
	{11, "castMember", "Cast Member"},
	{13, "counsel", "Counsel"},
	{14, "inventor", "Inventor"},
	{15, "attorneyAgent", "Attorney/Agent"},
	{16, "recipient", "Recipient"},
	{17, "performer", "Performer"},
	{18, "composer", "Composer"},
	{19, "wordsBy", "Words By"},
	{21, "programmer", "Programmer"},
	{27, "reviewedAuthor", "Reviewed Author"},
	{29, "bookAuthor", "Book Author"},
}

// trailing fields shared by most regular types
var commonTail = []FieldID{1, 27, 87, 22}

func fields(ids ...FieldID) []FieldID {
	out := make([]FieldID, 0, len(ids)+len(commonTail))
	out = append(out, ids...)
	return append(out, commonTail...)
}

var builtinItemTypes = []ItemTypeDef{
	{ID: 1, Name: "note", Label: "Note"},
	{
		ID: 2, Name: "book", Label: "Book",
		Fields:       fields(110, 90, 3, 4, 42, 6, 7, 8, 14, 11, 61, 62, 18, 2),
		CreatorTypes: []CreatorTypeID{1, 2, 3, 4, 5},
	},
	{
		ID: 3, Name: "bookSection", Label: "Book Section",
		Fields:       fields(110, 90, 60, 3, 4, 6, 7, 8, 14, 10, 11, 61),
		CreatorTypes: []CreatorTypeID{1, 2, 3, 29, 4, 5},
	},
	{
		ID: 4, Name: "journalArticle", Label: "Journal Article",
		Fields:       fields(110, 90, 12, 4, 5, 10, 14, 3, 28, 25, 26, 13, 61),
		CreatorTypes: []CreatorTypeID{1, 2, 3, 4, 27},
	},
	{
		ID: 7, Name: "thesis", Label: "Thesis",
		Fields:       fields(110, 90, 45, 69, 7, 14, 42, 61),
		BaseMappings: map[FieldID]FieldID{8: 69},
		CreatorTypes: []CreatorTypeID{1, 2},
	},
	{
		ID: 8, Name: "letter", Label: "Letter",
		Fields:       fields(110, 90, 36, 14, 61),
		CreatorTypes: []CreatorTypeID{1, 2, 16},
	},
	{
		ID: 10, Name: "interview", Label: "Interview",
		Fields:       fields(110, 90, 14, 37, 61),
		CreatorTypes: []CreatorTypeID{6, 2, 7, 4},
	},
	{
		ID: 11, Name: "film", Label: "Film",
		Fields:       fields(110, 90, 78, 14, 47, 46, 61),
		BaseMappings: map[FieldID]FieldID{8: 78},
		CreatorTypes: []CreatorTypeID{8, 2, 9, 10},
	},
	{
		ID: 13, Name: "webpage", Label: "Web Page",
		Fields:       fields(110, 90, 38, 39, 14, 61),
		CreatorTypes: []CreatorTypeID{1, 2, 4},
	},
	{ID: 14, Name: "attachment", Label: "Attachment", Fields: []FieldID{110, 1, 27}},
	{
		ID: 15, Name: "report", Label: "Report",
		Fields:       fields(110, 90, 43, 44, 28, 7, 80, 14, 10, 61),
		BaseMappings: map[FieldID]FieldID{8: 80},
		CreatorTypes: []CreatorTypeID{1, 2, 4, 5},
	},
	{
		ID: 17, Name: "case", Label: "Case",
		Fields:       fields(96, 90, 56, 97, 57, 58, 61),
		BaseMappings: map[FieldID]FieldID{110: 96, 14: 97},
		CreatorTypes: []CreatorTypeID{1, 2, 13},
	},
	{
		ID: 19, Name: "patent", Label: "Patent",
		Fields:       fields(110, 90, 55, 54, 52, 53, 98, 61),
		BaseMappings: map[FieldID]FieldID{14: 98},
		CreatorTypes: []CreatorTypeID{14, 2, 15},
	},
	{
		ID: 26, Name: "audioRecording", Label: "Audio Recording",
		Fields:       fields(110, 90, 48, 3, 72, 14, 46, 11, 61),
		BaseMappings: map[FieldID]FieldID{8: 72},
		CreatorTypes: []CreatorTypeID{17, 2, 18, 19},
	},
	{
		ID: 28, Name: "videoRecording", Label: "Video Recording",
		Fields:       fields(110, 90, 49, 3, 76, 14, 46, 11, 61),
		BaseMappings: map[FieldID]FieldID{8: 76},
		CreatorTypes: []CreatorTypeID{8, 2, 9, 10, 11},
	},
	{
		ID: 32, Name: "computerProgram", Label: "Software",
		Fields:       fields(110, 90, 3, 50, 51, 82, 59, 14, 11, 61),
		BaseMappings: map[FieldID]FieldID{8: 82},
		CreatorTypes: []CreatorTypeID{21, 2},
	},
	{
		ID: 34, Name: "document", Label: "Document",
		Fields:       fields(110, 90, 8, 14, 61),
		CreatorTypes: []CreatorTypeID{1, 2, 3, 4, 27},
	},
}

// Builtin returns the built-in schema data. The returned value may be
// extended with custom definitions before being passed to NewRegistry.
func Builtin() Data {
	d := Data{
		ItemTypes:    make([]ItemTypeDef, len(builtinItemTypes)),
		Fields:       make([]FieldDef, len(builtinFields)),
		CreatorTypes: make([]CreatorTypeDef, len(builtinCreatorTypes)),
	}
	copy(d.ItemTypes, builtinItemTypes)
	copy(d.Fields, builtinFields)
	copy(d.CreatorTypes, builtinCreatorTypes)
	return d
}
