// Package domain contains the content schema and conversation types shared by
// the domain-mapping skill, its stores and its transports.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is stamped on every assembled schema.
const SchemaVersion = "1.0.0"

// ErrInvalidSchema is wrapped by every validation failure in this package.
var ErrInvalidSchema = errors.New("invalid content schema")

// FieldType is the closed set of field kinds a schema may use.
type FieldType string

// Field types.
const (
	FieldText        FieldType = "text"
	FieldTextarea    FieldType = "textarea"
	FieldRichText    FieldType = "richtext"
	FieldMarkdown    FieldType = "markdown"
	FieldCode        FieldType = "code"
	FieldNumber      FieldType = "number"
	FieldRange       FieldType = "range"
	FieldBoolean     FieldType = "boolean"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multiselect"
	FieldRadio       FieldType = "radio"
	FieldCheckbox    FieldType = "checkbox"
	FieldDate        FieldType = "date"
	FieldTime        FieldType = "time"
	FieldDateTime    FieldType = "datetime"
	FieldImage       FieldType = "image"
	FieldFile        FieldType = "file"
	FieldGallery     FieldType = "gallery"
	FieldFiles       FieldType = "files"
	FieldJSON        FieldType = "json"
	FieldList        FieldType = "list"
	FieldStructure   FieldType = "structure"
	FieldBlocks      FieldType = "blocks"
	FieldRelation    FieldType = "relation"
	FieldRelations   FieldType = "relations"
	FieldURL         FieldType = "url"
	FieldEmail       FieldType = "email"
	FieldTel         FieldType = "tel"
	FieldColor       FieldType = "color"
	FieldLocation    FieldType = "location"
	FieldTags        FieldType = "tags"
)

// FieldCategory groups field types for editors and prompts.
type FieldCategory string

// Field categories.
const (
	CategoryText       FieldCategory = "text"
	CategoryNumeric    FieldCategory = "numeric"
	CategorySelection  FieldCategory = "selection"
	CategoryTemporal   FieldCategory = "temporal"
	CategoryMedia      FieldCategory = "media"
	CategoryStructured FieldCategory = "structured"
	CategoryRelational FieldCategory = "relational"
	CategorySpecial    FieldCategory = "special"
)

var fieldCategories = map[FieldType]FieldCategory{
	FieldText:        CategoryText,
	FieldTextarea:    CategoryText,
	FieldRichText:    CategoryText,
	FieldMarkdown:    CategoryText,
	FieldCode:        CategoryText,
	FieldNumber:      CategoryNumeric,
	FieldRange:       CategoryNumeric,
	FieldBoolean:     CategorySelection,
	FieldSelect:      CategorySelection,
	FieldMultiSelect: CategorySelection,
	FieldRadio:       CategorySelection,
	FieldCheckbox:    CategorySelection,
	FieldDate:        CategoryTemporal,
	FieldTime:        CategoryTemporal,
	FieldDateTime:    CategoryTemporal,
	FieldImage:       CategoryMedia,
	FieldFile:        CategoryMedia,
	FieldGallery:     CategoryMedia,
	FieldFiles:       CategoryMedia,
	FieldJSON:        CategoryStructured,
	FieldList:        CategoryStructured,
	FieldStructure:   CategoryStructured,
	FieldBlocks:      CategoryStructured,
	FieldRelation:    CategoryRelational,
	FieldRelations:   CategoryRelational,
	FieldURL:         CategorySpecial,
	FieldEmail:       CategorySpecial,
	FieldTel:         CategorySpecial,
	FieldColor:       CategorySpecial,
	FieldLocation:    CategorySpecial,
	FieldTags:        CategorySpecial,
}

// Valid reports whether t belongs to the closed field type set.
func (t FieldType) Valid() bool {
	_, ok := fieldCategories[t]
	return ok
}

// Category returns the group t belongs to, or "" for unknown types.
func (t FieldType) Category() FieldCategory {
	return fieldCategories[t]
}

// FieldWidth is the editor layout hint for a field.
type FieldWidth string

// Field widths.
const (
	WidthFull    FieldWidth = "full"
	WidthHalf    FieldWidth = "half"
	WidthThird   FieldWidth = "third"
	WidthQuarter FieldWidth = "quarter"
)

// Valid reports whether w is empty or one of the known widths.
func (w FieldWidth) Valid() bool {
	switch w {
	case "", WidthFull, WidthHalf, WidthThird, WidthQuarter:
		return true
	}
	return false
}

// RelationshipType is the cardinality of a relationship.
type RelationshipType string

// Relationship types.
const (
	OneToOne   RelationshipType = "one-to-one"
	OneToMany  RelationshipType = "one-to-many"
	ManyToOne  RelationshipType = "many-to-one"
	ManyToMany RelationshipType = "many-to-many"
)

// Valid reports whether r is a known cardinality.
func (r RelationshipType) Valid() bool {
	switch r {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// FieldChoice is one option of a selection field. Value is a string or a number.
type FieldChoice struct {
	Value    any    `json:"value"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

// FieldOptions carries type-specific settings. Unset options are nil.
type FieldOptions struct {
	MinLength      *int          `json:"minLength,omitempty"`
	MaxLength      *int          `json:"maxLength,omitempty"`
	Pattern        string        `json:"pattern,omitempty"`
	Min            *float64      `json:"min,omitempty"`
	Max            *float64      `json:"max,omitempty"`
	Step           *float64      `json:"step,omitempty"`
	Choices        []FieldChoice `json:"choices,omitempty"`
	AllowCustom    *bool         `json:"allowCustom,omitempty"`
	Accept         []string      `json:"accept,omitempty"`
	MaxSize        *int64        `json:"maxSize,omitempty"`
	MaxFiles       *int          `json:"maxFiles,omitempty"`
	Fields         []Field       `json:"fields,omitempty"`
	MaxItems       *int          `json:"maxItems,omitempty"`
	TargetEntity   string        `json:"targetEntity,omitempty"`
	Multiple       *bool         `json:"multiple,omitempty"`
	AllowedBlocks  []string      `json:"allowedBlocks,omitempty"`
	AllowedFormats []string      `json:"allowedFormats,omitempty"`
	DefaultValue   any           `json:"defaultValue,omitempty"`
	Readonly       *bool         `json:"readonly,omitempty"`
}

// UnmarshalJSON accepts both camelCase and snake_case option names. When a
// payload carries both spellings the camelCase one wins; options absent from
// the payload keep their current value.
func (o *FieldOptions) UnmarshalJSON(data []byte) error {
	type plain FieldOptions
	aux := struct {
		*plain
		MinLength           *int      `json:"minLength"`
		MinLengthSnake      *int      `json:"min_length"`
		MaxLength           *int      `json:"maxLength"`
		MaxLengthSnake      *int      `json:"max_length"`
		AllowCustom         *bool     `json:"allowCustom"`
		AllowCustomSnake    *bool     `json:"allow_custom"`
		MaxSize             *int64    `json:"maxSize"`
		MaxSizeSnake        *int64    `json:"max_size"`
		MaxFiles            *int      `json:"maxFiles"`
		MaxFilesSnake       *int      `json:"max_files"`
		MaxItems            *int      `json:"maxItems"`
		MaxItemsSnake       *int      `json:"max_items"`
		TargetEntity        *string   `json:"targetEntity"`
		TargetEntitySnake   *string   `json:"target_entity"`
		AllowedBlocks       *[]string `json:"allowedBlocks"`
		AllowedBlocksSnake  *[]string `json:"allowed_blocks"`
		AllowedFormats      *[]string `json:"allowedFormats"`
		AllowedFormatsSnake *[]string `json:"allowed_formats"`
		DefaultValue        *any      `json:"defaultValue"`
		DefaultValueSnake   *any      `json:"default_value"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.MinLength = firstNonNil(aux.MinLength, aux.MinLengthSnake, o.MinLength)
	o.MaxLength = firstNonNil(aux.MaxLength, aux.MaxLengthSnake, o.MaxLength)
	o.AllowCustom = firstNonNil(aux.AllowCustom, aux.AllowCustomSnake, o.AllowCustom)
	o.MaxSize = firstNonNil(aux.MaxSize, aux.MaxSizeSnake, o.MaxSize)
	o.MaxFiles = firstNonNil(aux.MaxFiles, aux.MaxFilesSnake, o.MaxFiles)
	o.MaxItems = firstNonNil(aux.MaxItems, aux.MaxItemsSnake, o.MaxItems)
	o.TargetEntity = pick(o.TargetEntity, aux.TargetEntity, aux.TargetEntitySnake)
	o.AllowedBlocks = pick(o.AllowedBlocks, aux.AllowedBlocks, aux.AllowedBlocksSnake)
	o.AllowedFormats = pick(o.AllowedFormats, aux.AllowedFormats, aux.AllowedFormatsSnake)
	o.DefaultValue = pick(o.DefaultValue, aux.DefaultValue, aux.DefaultValueSnake)
	return nil
}

// ValidationRule is a named custom validator.
type ValidationRule struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// FieldValidation holds value constraints for a field.
type FieldValidation struct {
	Required *bool            `json:"required,omitempty"`
	Unique   *bool            `json:"unique,omitempty"`
	Min      *float64         `json:"min,omitempty"`
	Max      *float64         `json:"max,omitempty"`
	Pattern  string           `json:"pattern,omitempty"`
	Custom   []ValidationRule `json:"custom,omitempty"`
}

// Field is a single attribute of an entity.
type Field struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Label       string           `json:"label"`
	Type        FieldType        `json:"type"`
	Required    bool             `json:"required"`
	Options     *FieldOptions    `json:"options,omitempty"`
	Validation  *FieldValidation `json:"validation,omitempty"`
	HelpText    string           `json:"helpText,omitempty"`
	Placeholder string           `json:"placeholder,omitempty"`
	Width       FieldWidth       `json:"width,omitempty"`
}

// UnmarshalJSON accepts both camelCase and snake_case field names.
func (f *Field) UnmarshalJSON(data []byte) error {
	type plain Field
	aux := struct {
		*plain
		HelpText      *string `json:"helpText"`
		HelpTextSnake *string `json:"help_text"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.HelpText = pick(f.HelpText, aux.HelpText, aux.HelpTextSnake)
	return nil
}

// Validate checks the identity and type constraints of f and its nested fields.
func (f *Field) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: field is missing id", ErrInvalidSchema)
	}
	if f.Name == "" {
		return fmt.Errorf("%w: field %q is missing name", ErrInvalidSchema, f.ID)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidSchema, f.ID, f.Type)
	}
	if !f.Width.Valid() {
		return fmt.Errorf("%w: field %q has unknown width %q", ErrInvalidSchema, f.ID, f.Width)
	}
	if f.Options != nil {
		if err := validateFields(f.Options.Fields); err != nil {
			return fmt.Errorf("field %q: %w", f.ID, err)
		}
	}
	return nil
}

func validateFields(fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for i := range fields {
		if err := fields[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[fields[i].ID]; dup {
			return fmt.Errorf("%w: duplicate field id %q", ErrInvalidSchema, fields[i].ID)
		}
		seen[fields[i].ID] = struct{}{}
	}
	return nil
}

// Entity is a named content type with an ordered list of fields.
type Entity struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PluralName   string  `json:"pluralName"`
	Description  string  `json:"description,omitempty"`
	Fields       []Field `json:"fields"`
	DisplayField string  `json:"displayField,omitempty"`
	Icon         string  `json:"icon,omitempty"`
	Color        string  `json:"color,omitempty"`
	Sortable     *bool   `json:"sortable,omitempty"`
	Timestamps   *bool   `json:"timestamps,omitempty"`
	SlugSource   string  `json:"slugSource,omitempty"`
}

// UnmarshalJSON accepts both camelCase and snake_case entity names.
func (e *Entity) UnmarshalJSON(data []byte) error {
	type plain Entity
	aux := struct {
		*plain
		PluralName        *string `json:"pluralName"`
		PluralNameSnake   *string `json:"plural_name"`
		DisplayField      *string `json:"displayField"`
		DisplayFieldSnake *string `json:"display_field"`
		SlugSource        *string `json:"slugSource"`
		SlugSourceSnake   *string `json:"slug_source"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.PluralName = pick(e.PluralName, aux.PluralName, aux.PluralNameSnake)
	e.DisplayField = pick(e.DisplayField, aux.DisplayField, aux.DisplayFieldSnake)
	e.SlugSource = pick(e.SlugSource, aux.SlugSource, aux.SlugSourceSnake)
	if e.Fields == nil {
		e.Fields = []Field{}
	}
	return nil
}

// Validate checks that e has an id and that its fields are well formed.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity %q is missing id", ErrInvalidSchema, e.Name)
	}
	if err := validateFields(e.Fields); err != nil {
		return fmt.Errorf("entity %q: %w", e.ID, err)
	}
	return nil
}

// Relationship links two entities by id.
type Relationship struct {
	ID            string           `json:"id"`
	Type          RelationshipType `json:"type"`
	From          string           `json:"from"`
	To            string           `json:"to"`
	Label         string           `json:"label,omitempty"`
	InverseLabel  string           `json:"inversLabel,omitempty"`
	Required      *bool            `json:"required,omitempty"`
	CascadeDelete *bool            `json:"cascadeDelete,omitempty"`
}

// UnmarshalJSON accepts the wire aliases as well as the long snake_case names.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	type plain Relationship
	aux := struct {
		*plain
		From               *string `json:"from"`
		FromEntity         *string `json:"from_entity"`
		To                 *string `json:"to"`
		ToEntity           *string `json:"to_entity"`
		InversLabel        *string `json:"inversLabel"`
		InverseLabel       *string `json:"inverseLabel"`
		InverseLabelSnake  *string `json:"inverse_label"`
		CascadeDelete      *bool   `json:"cascadeDelete"`
		CascadeDeleteSnake *bool   `json:"cascade_delete"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.From = pick(r.From, aux.From, aux.FromEntity)
	r.To = pick(r.To, aux.To, aux.ToEntity)
	r.InverseLabel = pick(r.InverseLabel, aux.InversLabel, aux.InverseLabel, aux.InverseLabelSnake)
	r.CascadeDelete = firstNonNil(aux.CascadeDelete, aux.CascadeDeleteSnake, r.CascadeDelete)
	return nil
}

// Validate checks the id and cardinality of r. Endpoints are not resolved.
func (r *Relationship) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: relationship %s->%s is missing id", ErrInvalidSchema, r.From, r.To)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: relationship %q has unknown type %q", ErrInvalidSchema, r.ID, r.Type)
	}
	return nil
}

// Metadata describes a schema. Zero timestamps are filled on decode.
type Metadata struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewMetadata returns metadata stamped with now.
func NewMetadata(name, description, author string, now time.Time) Metadata {
	return Metadata{
		Name:        name,
		Description: description,
		Author:      author,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UnmarshalJSON accepts snake_case timestamps. A timestamp present in the
// payload replaces the current value; missing ones keep it, or default to
// now when still zero.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	aux := struct {
		*plain
		CreatedAt      *time.Time `json:"createdAt"`
		CreatedAtSnake *time.Time `json:"created_at"`
		UpdatedAt      *time.Time `json:"updatedAt"`
		UpdatedAtSnake *time.Time `json:"updated_at"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.CreatedAt = pick(m.CreatedAt, aux.CreatedAt, aux.CreatedAtSnake)
	m.UpdatedAt = pick(m.UpdatedAt, aux.UpdatedAt, aux.UpdatedAtSnake)
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return nil
}

// ContentSchema is the versioned set of entities and relationships for a portfolio.
type ContentSchema struct {
	Version       string         `json:"version"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Metadata      Metadata       `json:"metadata"`
}

// Validate checks every entity and relationship and the uniqueness of entity ids.
// Relationship endpoints are allowed to reference entities that do not exist.
func (s *ContentSchema) Validate() error {
	seen := make(map[string]struct{}, len(s.Entities))
	for i := range s.Entities {
		if err := s.Entities[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Entities[i].ID]; dup {
			return fmt.Errorf("%w: duplicate entity id %q", ErrInvalidSchema, s.Entities[i].ID)
		}
		seen[s.Entities[i].ID] = struct{}{}
	}
	for i := range s.Relationships {
		if err := s.Relationships[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// pick returns the first alias present in the payload, or cur when none was.
func pick[T any](cur T, aliases ...*T) T {
	for _, v := range aliases {
		if v != nil {
			return *v
		}
	}
	return cur
}

func firstNonNil[T any](ptrs ...*T) *T {
	for _, p := range ptrs {
		if p != nil {
			return p
		}
	}
	return nil
}
