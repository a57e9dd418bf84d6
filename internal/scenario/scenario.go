// Package scenario describes the mouseadmin workflow as data and runs it
// against a browser session.
package scenario

import (
	"fmt"
)

// Action is the kind of work a step performs
type Action string

// Action constants
const (
	ActionNavigate          Action = "navigate"
	ActionWaitNavigation    Action = "wait_navigation"
	ActionFill              Action = "fill"
	ActionClick             Action = "click"
	ActionClickLink         Action = "click_link"
	ActionClear             Action = "clear"
	ActionAddField          Action = "add_field"
	ActionWaitSelector      Action = "wait_selector"
	ActionClosePage         Action = "close_page"
	ActionAssertContains    Action = "assert_contains"
	ActionAssertNotContains Action = "assert_not_contains"
	ActionAssertListed      Action = "assert_listed"
	ActionAssertNotListed   Action = "assert_not_listed"
	ActionAssertElement     Action = "assert_element"
	ActionAssertNoLink      Action = "assert_no_link"
	ActionVerifyFile        Action = "verify_file"
)

// IsValid checks if the Action is known to the runner
func (a Action) IsValid() bool {
	switch a {
	case ActionNavigate, ActionWaitNavigation, ActionFill, ActionClick, ActionClickLink,
		ActionClear, ActionAddField, ActionWaitSelector, ActionClosePage,
		ActionAssertContains, ActionAssertNotContains, ActionAssertListed,
		ActionAssertNotListed, ActionAssertElement, ActionAssertNoLink, ActionVerifyFile:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// Page names used by the built scenario
const (
	MainPage    = "main"
	PreviewPage = "preview"
)

// Step is one driver call or assertion.
//
// Target holds the selector, link text, path, expected text or file path
// depending on Action. Field scopes Target to a registered field row, and
// for add_field names the row being added. Page selects which named page
// the step runs on (main when empty). OpensPage binds the page a click
// opens to that name.
type Step struct {
	Action    Action `yaml:"action"`
	Target    string `yaml:"target,omitempty"`
	Value     string `yaml:"value,omitempty"`
	Field     string `yaml:"field,omitempty"`
	Page      string `yaml:"page,omitempty"`
	OpensPage string `yaml:"opens_page,omitempty"`
}

func (s Step) String() string {
	out := string(s.Action)
	if s.Page != "" && s.Page != MainPage {
		out += "@" + s.Page
	}
	if s.Field != "" {
		out += "[" + s.Field + "]"
	}
	if s.Target != "" {
		out += fmt.Sprintf(" %q", s.Target)
	}
	if s.Value != "" {
		out += fmt.Sprintf(" = %q", s.Value)
	}
	return out
}

// Phase is a named group of steps
type Phase struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Scenario is the ordered list of phases for one workflow
type Scenario struct {
	Name   string  `yaml:"name"`
	Phases []Phase `yaml:"phases"`
}

// Phase names of the mouseadmin scenario
const (
	PhaseCreateTemplate = "Create Template"
	PhaseEditTemplate   = "Edit Template"
	PhaseCreateEntry    = "Create Entry"
	PhaseValidateFile   = "Validate Persisted File"
	PhaseUpdateEntry    = "Update Entry"
)

// ControlSelector returns the entry-form control used for a field of the given type
func ControlSelector(f FieldSpec) string {
	switch f.Type {
	case FieldTypeHTML:
		return fmt.Sprintf(`textarea[name=%q]`, f.Name)
	case FieldTypeSelect:
		return fmt.Sprintf(`select[name=%q]`, f.Name)
	default:
		return fmt.Sprintf(`input[name=%q]`, f.Name)
	}
}

// Build expands a workflow into the five mouseadmin phases
func Build(w *Workflow) (*Scenario, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	path, err := RenderPath(w.Template.EntryPath, w.Values())
	if err != nil {
		return nil, err
	}
	updatedPath, err := RenderPath(w.Template.EntryPath, w.UpdatedValues())
	if err != nil {
		return nil, err
	}
	for _, p := range []string{path, updatedPath} {
		if !InsideBase(p) {
			return nil, fmt.Errorf("%w: entry path %q leaves %s", ErrInvalidWorkflow, p, w.Files.BaseDir)
		}
	}

	return &Scenario{
		Name: w.Name,
		Phases: []Phase{
			createTemplatePhase(w),
			editTemplatePhase(w),
			createEntryPhase(w, path),
			{
				Name: PhaseValidateFile,
				Steps: []Step{
					{Action: ActionVerifyFile, Target: FilePath(w.Files.BaseDir, path), Value: w.Files.Content},
				},
			},
			updateEntryPhase(w, path, updatedPath),
		},
	}, nil
}

func createTemplatePhase(w *Workflow) Phase {
	s := w.Selectors
	steps := []Step{
		{Action: ActionNavigate, Target: w.Paths.NewTemplate},
		{Action: ActionWaitNavigation},
		{Action: ActionFill, Target: s.TemplateName, Value: w.Template.Name},
		{Action: ActionFill, Target: s.EntryPath, Value: w.Template.EntryPath},
		{Action: ActionFill, Target: s.TargetPath, Value: w.Template.TargetPath},
	}
	for _, f := range w.Fields {
		steps = append(steps,
			Step{Action: ActionAddField, Target: s.AddField, Value: s.FieldContainer, Field: f.Name},
			Step{Action: ActionFill, Target: s.FieldName, Value: f.Name, Field: f.Name},
			Step{Action: ActionFill, Target: s.FieldType, Value: f.Type, Field: f.Name},
		)
	}
	steps = append(steps,
		Step{Action: ActionFill, Target: s.IndexTemplate, Value: w.Template.IndexTemplate},
		Step{Action: ActionFill, Target: s.EntryTemplate, Value: w.Template.EntryTemplate},
		Step{Action: ActionClick, Target: s.Submit},
		Step{Action: ActionWaitNavigation},
		Step{Action: ActionAssertContains, Target: w.Template.Name},
	)
	return Phase{Name: PhaseCreateTemplate, Steps: steps}
}

func editTemplatePhase(w *Workflow) Phase {
	s := w.Selectors
	return Phase{
		Name: PhaseEditTemplate,
		Steps: []Step{
			{Action: ActionClickLink, Target: w.Template.Name},
			{Action: ActionWaitNavigation},
			{Action: ActionClickLink, Target: w.Links.Edit},
			{Action: ActionWaitNavigation},
			{Action: ActionWaitSelector, Target: s.RenameInput},
			{Action: ActionClear, Target: s.RenameInput},
			{Action: ActionFill, Target: s.RenameInput, Value: w.Template.RenameTo},
			{Action: ActionClick, Target: s.RenameSubmit},
			{Action: ActionWaitNavigation},
			{Action: ActionAssertContains, Target: w.Template.RenameTo},
			{Action: ActionAssertNoLink, Target: w.Template.Name},
		},
	}
}

func createEntryPhase(w *Workflow, path string) Phase {
	s := w.Selectors
	steps := []Step{
		{Action: ActionClickLink, Target: w.Template.RenameTo},
		{Action: ActionWaitNavigation},
		{Action: ActionClickLink, Target: w.Links.NewEntry},
		{Action: ActionWaitNavigation},
	}
	for _, f := range w.Fields {
		steps = append(steps, Step{Action: ActionFill, Target: ControlSelector(f), Value: f.Value})
	}
	steps = append(steps, Step{Action: ActionClick, Target: s.Preview, OpensPage: PreviewPage})
	for _, f := range w.Fields {
		if f.Type == FieldTypeText {
			steps = append(steps, Step{Action: ActionAssertContains, Target: f.Value, Page: PreviewPage})
			continue
		}
		steps = append(steps, Step{Action: ActionAssertElement, Target: ControlSelector(f), Page: PreviewPage})
	}
	steps = append(steps,
		Step{Action: ActionClosePage, Page: PreviewPage},
		Step{Action: ActionClick, Target: s.Submit},
		Step{Action: ActionWaitNavigation},
		Step{Action: ActionAssertListed, Target: path},
	)
	return Phase{Name: PhaseCreateEntry, Steps: steps}
}

func updateEntryPhase(w *Workflow, path, updatedPath string) Phase {
	steps := []Step{
		{Action: ActionClickLink, Target: path},
		{Action: ActionWaitNavigation},
	}
	for _, f := range w.Fields {
		if f.UpdatedValue == "" {
			continue
		}
		control := ControlSelector(f)
		steps = append(steps,
			Step{Action: ActionWaitSelector, Target: control},
			Step{Action: ActionClear, Target: control},
			Step{Action: ActionFill, Target: control, Value: f.UpdatedValue},
		)
	}
	steps = append(steps,
		Step{Action: ActionClick, Target: w.Selectors.Submit},
		Step{Action: ActionWaitNavigation},
		Step{Action: ActionAssertListed, Target: updatedPath},
	)
	if updatedPath != path {
		steps = append(steps, Step{Action: ActionAssertNotListed, Target: path})
	}
	return Phase{Name: PhaseUpdateEntry, Steps: steps}
}
