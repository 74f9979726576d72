package wiki

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxTitleLength bounds article titles, in characters.
const MaxTitleLength = 512

// FormField is one input of a form together with its bound value and errors.
type FormField struct {
	Name      string
	Label     string
	Widget    string // "text", "textarea", "file" or "checkbox"
	Value     string
	Required  bool
	MaxLength int
	HelpText  string
	Errors    []string
}

// Form is anything the form templates know how to render.
type Form interface {
	Fields() []*FormField
	NonFieldErrors() []string
	IsValid() bool
}

// BaseForm implements Form over a list of fields. Concrete forms embed it and
// add their own cleaning on top of the required/length checks.
type BaseForm struct {
	fields []*FormField
	errors []string
	bound  bool
}

func NewBaseForm(fields ...*FormField) *BaseForm {
	return &BaseForm{fields: fields}
}

func (f *BaseForm) Fields() []*FormField { return f.fields }

func (f *BaseForm) NonFieldErrors() []string { return f.errors }

// Field returns the named field, or nil.
func (f *BaseForm) Field(name string) *FormField {
	for _, field := range f.fields {
		if field.Name == name {
			return field
		}
	}
	return nil
}

// Value returns the bound value of the named field.
func (f *BaseForm) Value(name string) string {
	if field := f.Field(name); field != nil {
		return field.Value
	}
	return ""
}

// AddError records an error on the named field, or on the form when name is empty.
func (f *BaseForm) AddError(name, msg string) {
	if field := f.Field(name); field != nil {
		field.Errors = append(field.Errors, msg)
		return
	}
	f.errors = append(f.errors, msg)
}

// Bind copies submitted values into the fields and runs the generic checks.
func (f *BaseForm) Bind(values url.Values) {
	f.bound = true
	f.errors = nil
	for _, field := range f.fields {
		field.Errors = nil
		if field.Widget == "file" {
			continue
		}
		field.Value = values.Get(field.Name)
		if field.Widget != "textarea" {
			field.Value = strings.TrimSpace(field.Value)
		}
		if field.Required && field.Value == "" {
			field.Errors = append(field.Errors, "This field is required.")
		}
		if field.MaxLength > 0 && utf8.RuneCountInString(field.Value) > field.MaxLength {
			field.Errors = append(field.Errors,
				fmt.Sprintf("Ensure this value has at most %d characters.", field.MaxLength))
		}
	}
}

// IsValid reports whether the form was bound and no errors were recorded.
func (f *BaseForm) IsValid() bool {
	if !f.bound || len(f.errors) > 0 {
		return false
	}
	for _, field := range f.fields {
		if len(field.Errors) > 0 {
			return false
		}
	}
	return true
}

// CreateRootForm creates the first article of a wiki.
type CreateRootForm struct {
	*BaseForm
}

func NewCreateRootForm() *CreateRootForm {
	return &CreateRootForm{BaseForm: NewBaseForm(
		&FormField{Name: "title", Label: "Title", Widget: "text", Required: true, MaxLength: MaxTitleLength,
			HelpText: "Initially, this title will also be the article's name."},
		&FormField{Name: "content", Label: "Type in some contents", Widget: "textarea",
			HelpText: "This is just the initial contents of your article. After creating it, you can use more complex features like adding plugins, meta data, related articles etc..."},
	)}
}

// Revision builds the initial revision from a valid form.
func (f *CreateRootForm) Revision() *ArticleRevision {
	return &ArticleRevision{
		Title:   f.Value("title"),
		Content: f.Value("content"),
	}
}

// EditForm saves a new revision of an existing article.
type EditForm struct {
	*BaseForm
	current *ArticleRevision
}

func NewEditForm(current *ArticleRevision) *EditForm {
	f := &EditForm{
		BaseForm: NewBaseForm(
			&FormField{Name: "title", Label: "Title", Widget: "text", Required: true, MaxLength: MaxTitleLength},
			&FormField{Name: "content", Label: "Contents", Widget: "textarea"},
			&FormField{Name: "summary", Label: "Summary", Widget: "text",
				HelpText: "Give a short reason for your edit, which will be stated in the revision log."},
		),
		current: current,
	}
	if current != nil {
		f.Field("title").Value = current.Title
		f.Field("content").Value = current.Content
	}
	return f
}

// Bind runs the generic checks and rejects edits that change nothing.
func (f *EditForm) Bind(values url.Values) {
	f.BaseForm.Bind(values)
	if f.current != nil && f.Value("title") == f.current.Title && f.Value("content") == f.current.Content {
		f.AddError("", "No changes made. Nothing to save.")
	}
}

// Revision builds the new revision from a valid form.
func (f *EditForm) Revision() *ArticleRevision {
	return &ArticleRevision{
		Title:       f.Value("title"),
		Content:     f.Value("content"),
		UserMessage: f.Value("summary"),
	}
}
