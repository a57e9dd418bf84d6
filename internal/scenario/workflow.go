package scenario

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed workflows/*.yaml
var workflows embed.FS

// DefaultWorkflowName is the workflow used when no file is configured
const DefaultWorkflowName = "mouseadmin"

// ErrInvalidWorkflow is returned when a workflow definition fails validation
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Field types understood by the entry forms
const (
	FieldTypeText   = "text"
	FieldTypeHTML   = "html"
	FieldTypeSelect = "select"
)

// Workflow parameterises the five-phase mouseadmin scenario
type Workflow struct {
	Name      string       `yaml:"name" validate:"required"`
	Template  TemplateSpec `yaml:"template"`
	Fields    []FieldSpec  `yaml:"fields" validate:"required,min=1,dive"`
	Files     FileSpec     `yaml:"files"`
	Selectors Selectors    `yaml:"selectors"`
	Links     Links        `yaml:"links"`
	Paths     Paths        `yaml:"paths"`
}

// TemplateSpec describes the record template created in the first phase
type TemplateSpec struct {
	Name          string `yaml:"name" validate:"required"`
	RenameTo      string `yaml:"rename_to" validate:"required,nefield=Name"`
	EntryPath     string `yaml:"entry_path" validate:"required"`
	TargetPath    string `yaml:"target_path"`
	IndexTemplate string `yaml:"index_template"`
	EntryTemplate string `yaml:"entry_template"`
}

// FieldSpec is one template field and the values typed into it
type FieldSpec struct {
	Name         string `yaml:"name" validate:"required"`
	Type         string `yaml:"type" validate:"required,oneof=text html select"`
	Value        string `yaml:"value"`
	UpdatedValue string `yaml:"updated_value"`
}

// FileSpec locates the persisted entry file
type FileSpec struct {
	BaseDir string `yaml:"base_dir"`
	Content string `yaml:"content"`
}

// Selectors are the CSS selectors of the mouseadmin forms
type Selectors struct {
	TemplateName   string `yaml:"template_name"`
	EntryPath      string `yaml:"entry_path"`
	TargetPath     string `yaml:"target_path"`
	AddField       string `yaml:"add_field"`
	FieldContainer string `yaml:"field_container"`
	FieldName      string `yaml:"field_name"`
	FieldType      string `yaml:"field_type"`
	IndexTemplate  string `yaml:"index_template"`
	EntryTemplate  string `yaml:"entry_template"`
	Submit         string `yaml:"submit"`
	RenameInput    string `yaml:"rename_input"`
	RenameSubmit   string `yaml:"rename_submit"`
	Preview        string `yaml:"preview"`
}

// Links are the visible texts of navigation links
type Links struct {
	Edit     string `yaml:"edit"`
	NewEntry string `yaml:"new_entry"`
}

// Paths are server paths relative to the base URL
type Paths struct {
	NewTemplate string `yaml:"new_template"`
}

func defaultSelectors() Selectors {
	return Selectors{
		TemplateName:   `input[name="template_name"]`,
		EntryPath:      `input[name="entry_path_template"]`,
		TargetPath:     `input[name="neocities_path"]`,
		AddField:       "#new-field",
		FieldContainer: ".fieldinput",
		FieldName:      `input[name="field_name"]`,
		FieldType:      `select[name="field_type"]`,
		IndexTemplate:  `textarea[name="index_template"]`,
		EntryTemplate:  `textarea[name="entry_template"]`,
		Submit:         `input[type="submit"]`,
		RenameInput:    `input[name="templateName"]`,
		RenameSubmit:   `button[type="submit"]`,
		Preview:        "#preview",
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// applyDefaults fills every unset selector, link and path
func (w *Workflow) applyDefaults() {
	d := defaultSelectors()
	s := &w.Selectors
	s.TemplateName = orDefault(s.TemplateName, d.TemplateName)
	s.EntryPath = orDefault(s.EntryPath, d.EntryPath)
	s.TargetPath = orDefault(s.TargetPath, d.TargetPath)
	s.AddField = orDefault(s.AddField, d.AddField)
	s.FieldContainer = orDefault(s.FieldContainer, d.FieldContainer)
	s.FieldName = orDefault(s.FieldName, d.FieldName)
	s.FieldType = orDefault(s.FieldType, d.FieldType)
	s.IndexTemplate = orDefault(s.IndexTemplate, d.IndexTemplate)
	s.EntryTemplate = orDefault(s.EntryTemplate, d.EntryTemplate)
	s.Submit = orDefault(s.Submit, d.Submit)
	s.RenameInput = orDefault(s.RenameInput, d.RenameInput)
	s.RenameSubmit = orDefault(s.RenameSubmit, d.RenameSubmit)
	s.Preview = orDefault(s.Preview, d.Preview)

	w.Links.Edit = orDefault(w.Links.Edit, "Edit")
	w.Links.NewEntry = orDefault(w.Links.NewEntry, "New Entry")
	w.Paths.NewTemplate = orDefault(w.Paths.NewTemplate, "/templates/new")
	w.Files.BaseDir = orDefault(w.Files.BaseDir, "mock_data")
}

// Validate checks struct tags, unique field names, that at least one field
// is updated, and that the entry path only references declared fields.
func (w *Workflow) Validate() error {
	if err := validator.New().Struct(w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}

	seen := make(map[string]bool, len(w.Fields))
	updated := false
	for _, f := range w.Fields {
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidWorkflow, f.Name)
		}
		seen[f.Name] = true
		if f.UpdatedValue != "" {
			updated = true
		}
	}
	if !updated {
		return fmt.Errorf("%w: at least one field needs an updated_value", ErrInvalidWorkflow)
	}

	if _, err := RenderPath(w.Template.EntryPath, w.Values()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	return nil
}

// Values returns the initial value of every field keyed by name
func (w *Workflow) Values() map[string]string {
	values := make(map[string]string, len(w.Fields))
	for _, f := range w.Fields {
		values[f.Name] = f.Value
	}
	return values
}

// UpdatedValues returns field values after the update phase. Fields without
// an updated value keep their initial one.
func (w *Workflow) UpdatedValues() map[string]string {
	values := w.Values()
	for _, f := range w.Fields {
		if f.UpdatedValue != "" {
			values[f.Name] = f.UpdatedValue
		}
	}
	return values
}

// ParseWorkflow decodes, defaults and validates a YAML workflow
func ParseWorkflow(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	w.applyDefaults()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// LoadWorkflow reads a workflow from disk. An empty path loads the built-in workflow.
func LoadWorkflow(path string) (*Workflow, error) {
	if path == "" {
		return DefaultWorkflow()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	return ParseWorkflow(data)
}

// DefaultWorkflow returns the built-in reference workflow
func DefaultWorkflow() (*Workflow, error) {
	data, err := workflows.ReadFile("workflows/" + DefaultWorkflowName + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in workflow: %w", err)
	}
	return ParseWorkflow(data)
}
