package schema

import (
	"fmt"
	"regexp"
	"sync"
)

type itemType struct {
	def       ItemTypeDef
	fieldSet  map[FieldID]struct{}
	creators  map[CreatorTypeID]struct{}
	baseOf    map[FieldID]FieldID // specific field -> base field
	primaryCT CreatorTypeID
}

// Registry answers schema questions in O(1).
type Registry struct {
	types        map[ItemTypeID]*itemType
	typeIDs      map[string]ItemTypeID
	fields       map[FieldID]FieldDef
	fieldIDs     map[string]FieldID
	creatorTypes map[CreatorTypeID]CreatorTypeDef
	creatorIDs   map[string]CreatorTypeID
	// base field -> every type-specific field mapped onto it
	familyOf map[FieldID]map[FieldID]struct{}
}

// NewRegistry validates d and builds the lookup tables.
func NewRegistry(d Data) (*Registry, error) {
	r := &Registry{
		types:        make(map[ItemTypeID]*itemType, len(d.ItemTypes)),
		typeIDs:      make(map[string]ItemTypeID, len(d.ItemTypes)),
		fields:       make(map[FieldID]FieldDef, len(d.Fields)),
		fieldIDs:     make(map[string]FieldID, len(d.Fields)),
		creatorTypes: make(map[CreatorTypeID]CreatorTypeDef, len(d.CreatorTypes)),
		creatorIDs:   make(map[string]CreatorTypeID, len(d.CreatorTypes)),
		familyOf:     make(map[FieldID]map[FieldID]struct{}),
	}

	for _, f := range d.Fields {
		if _, dup := r.fields[f.ID]; dup {
			return nil, fmt.Errorf("duplicate field id %d", f.ID)
		}
		if _, dup := r.fieldIDs[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field name %q", f.Name)
		}
		r.fields[f.ID] = f
		r.fieldIDs[f.Name] = f.ID
	}

	for _, ct := range d.CreatorTypes {
		if _, dup := r.creatorTypes[ct.ID]; dup {
			return nil, fmt.Errorf("duplicate creator type id %d", ct.ID)
		}
		r.creatorTypes[ct.ID] = ct
		r.creatorIDs[ct.Name] = ct.ID
	}

	for _, t := range d.ItemTypes {
		if _, dup := r.types[t.ID]; dup {
			return nil, fmt.Errorf("duplicate item type id %d", t.ID)
		}
		it := &itemType{
			def:      t,
			fieldSet: make(map[FieldID]struct{}, len(t.Fields)),
			creators: make(map[CreatorTypeID]struct{}, len(t.CreatorTypes)),
			baseOf:   make(map[FieldID]FieldID, len(t.BaseMappings)),
		}
		for _, f := range t.Fields {
			if _, ok := r.fields[f]; !ok {
				return nil, fmt.Errorf("item type %q: unknown field %d", t.Name, f)
			}
			it.fieldSet[f] = struct{}{}
		}
		for base, specific := range t.BaseMappings {
			if _, ok := r.fields[base]; !ok {
				return nil, fmt.Errorf("item type %q: unknown base field %d", t.Name, base)
			}
			if _, ok := it.fieldSet[specific]; !ok {
				return nil, fmt.Errorf("item type %q: mapped field %d not in type", t.Name, specific)
			}
			it.baseOf[specific] = base
			if r.familyOf[base] == nil {
				r.familyOf[base] = make(map[FieldID]struct{})
			}
			r.familyOf[base][specific] = struct{}{}
		}
		for i, ct := range t.CreatorTypes {
			if _, ok := r.creatorTypes[ct]; !ok {
				return nil, fmt.Errorf("item type %q: unknown creator type %d", t.Name, ct)
			}
			if i == 0 {
				it.primaryCT = ct
			}
			it.creators[ct] = struct{}{}
		}
		r.types[t.ID] = it
		r.typeIDs[t.Name] = t.ID
	}

	return r, nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry built from Builtin().
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(Builtin())
		if err != nil {
			panic(err)
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

func (r *Registry) ItemTypeExists(id ItemTypeID) bool {
	_, ok := r.types[id]
	return ok
}

func (r *Registry) ItemTypeID(name string) (ItemTypeID, bool) {
	id, ok := r.typeIDs[name]
	return id, ok
}

func (r *Registry) ItemTypeName(id ItemTypeID) string {
	if t, ok := r.types[id]; ok {
		return t.def.Name
	}
	return ""
}

func (r *Registry) ItemTypeLabel(id ItemTypeID) string {
	if t, ok := r.types[id]; ok {
		return t.def.Label
	}
	return ""
}

func (r *Registry) IsCustomType(id ItemTypeID) bool {
	return id >= CustomIDBase
}

// TypeFields returns the ordered fields of a type. Custom types declare no
// fixed set and return nil.
func (r *Registry) TypeFields(id ItemTypeID) []FieldID {
	t, ok := r.types[id]
	if !ok || r.IsCustomType(id) {
		return nil
	}
	out := make([]FieldID, len(t.def.Fields))
	copy(out, t.def.Fields)
	return out
}

func (r *Registry) FieldID(name string) (FieldID, bool) {
	id, ok := r.fieldIDs[name]
	return id, ok
}

func (r *Registry) FieldExists(id FieldID) bool {
	_, ok := r.fields[id]
	return ok
}

func (r *Registry) FieldName(id FieldID) string {
	return r.fields[id].Name
}

// FieldLabel falls back to the field name when no label is declared.
func (r *Registry) FieldLabel(id FieldID) string {
	f := r.fields[id]
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func (r *Registry) IsCustomField(id FieldID) bool {
	return id >= CustomIDBase
}

// IsValidForType reports whether field may hold data for the item type.
// Custom types accept every field and custom fields are valid everywhere.
func (r *Registry) IsValidForType(field FieldID, typeID ItemTypeID) bool {
	if r.IsCustomType(typeID) || r.IsCustomField(field) {
		return true
	}
	t, ok := r.types[typeID]
	if !ok {
		return false
	}
	_, ok = t.fieldSet[field]
	return ok
}

// FieldIDFromTypeAndBase returns the field typeID uses for base. A type that
// carries the base field itself answers with the base field.
func (r *Registry) FieldIDFromTypeAndBase(typeID ItemTypeID, base FieldID) (FieldID, bool) {
	t, ok := r.types[typeID]
	if !ok {
		return 0, false
	}
	if f, ok := t.def.BaseMappings[base]; ok {
		return f, true
	}
	if _, ok := t.fieldSet[base]; ok && r.isBaseField(base) {
		return base, true
	}
	return 0, false
}

// FieldIDFromTypeAndBaseName is FieldIDFromTypeAndBase keyed by base name.
func (r *Registry) FieldIDFromTypeAndBaseName(typeID ItemTypeID, base string) (FieldID, bool) {
	id, ok := r.fieldIDs[base]
	if !ok {
		return 0, false
	}
	return r.FieldIDFromTypeAndBase(typeID, id)
}

// BaseIDFromTypeAndField returns the base field that field stands for under
// typeID. A base field used directly by the type is its own base.
func (r *Registry) BaseIDFromTypeAndField(typeID ItemTypeID, field FieldID) (FieldID, bool) {
	t, ok := r.types[typeID]
	if !ok {
		return 0, false
	}
	if base, ok := t.baseOf[field]; ok {
		return base, true
	}
	if _, ok := t.fieldSet[field]; ok && r.isBaseField(field) {
		return field, true
	}
	return 0, false
}

func (r *Registry) isBaseField(id FieldID) bool {
	_, ok := r.familyOf[id]
	return ok
}

// IsFieldOfBase reports whether field is the named base field or is mapped
// onto it by some type. IsFieldOfBase(f, "date") selects multipart dates.
func (r *Registry) IsFieldOfBase(field FieldID, base string) bool {
	baseID, ok := r.fieldIDs[base]
	if !ok {
		return false
	}
	if field == baseID {
		return true
	}
	_, ok = r.familyOf[baseID][field]
	return ok
}

func (r *Registry) CreatorTypeExists(id CreatorTypeID) bool {
	_, ok := r.creatorTypes[id]
	return ok || r.IsCustomCreatorType(id)
}

func (r *Registry) CreatorTypeID(name string) (CreatorTypeID, bool) {
	id, ok := r.creatorIDs[name]
	return id, ok
}

func (r *Registry) CreatorTypeName(id CreatorTypeID) string {
	return r.creatorTypes[id].Name
}

func (r *Registry) IsCustomCreatorType(id CreatorTypeID) bool {
	return id >= CustomIDBase
}

// IsValidCreatorTypeForItemType treats contributor as valid for every
// regular type.
func (r *Registry) IsValidCreatorTypeForItemType(ct CreatorTypeID, typeID ItemTypeID) bool {
	if r.IsCustomType(typeID) || r.IsCustomCreatorType(ct) {
		return true
	}
	t, ok := r.types[typeID]
	if !ok {
		return false
	}
	if _, ok := t.creators[ct]; ok {
		return true
	}
	return ct == CreatorContributor && len(t.creators) > 0
}

// PrimaryCreatorType returns the first declared role for the type, or 0.
func (r *Registry) PrimaryCreatorType(typeID ItemTypeID) CreatorTypeID {
	if t, ok := r.types[typeID]; ok {
		return t.primaryCT
	}
	return 0
}

var multipartRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} `)

// MultipartToStr strips the sortable "YYYY-MM-DD " prefix of a multipart
// date and returns the user-entered part. Other values are returned as is.
func MultipartToStr(value string) string {
	if multipartRe.MatchString(value) {
		return value[11:]
	}
	return value
}
