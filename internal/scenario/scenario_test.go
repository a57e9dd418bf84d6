package scenario

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDefault(t *testing.T) *Scenario {
	t.Helper()
	w, err := DefaultWorkflow()
	require.NoError(t, err)
	sc, err := Build(w)
	require.NoError(t, err)
	return sc
}

func phaseNames(sc *Scenario) []string {
	names := make([]string, 0, len(sc.Phases))
	for _, p := range sc.Phases {
		names = append(names, p.Name)
	}
	return names
}

func TestBuildPhaseOrder(t *testing.T) {
	sc := buildDefault(t)

	want := []string{PhaseCreateTemplate, PhaseEditTemplate, PhaseCreateEntry, PhaseValidateFile, PhaseUpdateEntry}
	if diff := cmp.Diff(want, phaseNames(sc)); diff != "" {
		t.Errorf("phase order mismatch (-want +got):\n%s", diff)
	}
	for _, phase := range sc.Phases {
		for _, step := range phase.Steps {
			assert.True(t, step.Action.IsValid(), "phase %s has invalid action %q", phase.Name, step.Action)
		}
	}
}

func TestBuildCreateTemplateRegistersFields(t *testing.T) {
	steps := buildDefault(t).Phases[0].Steps

	assert.Equal(t, Step{Action: ActionNavigate, Target: "/templates/new"}, steps[0])

	var added []string
	for _, s := range steps {
		if s.Action == ActionAddField {
			added = append(added, s.Field)
			assert.Equal(t, "#new-field", s.Target)
			assert.Equal(t, ".fieldinput", s.Value)
		}
	}
	assert.Equal(t, []string{"myfield", "myhtml"}, added)

	assert.Contains(t, steps, Step{Action: ActionFill, Target: `select[name="field_type"]`, Value: "html", Field: "myhtml"})
	assert.Contains(t, steps, Step{Action: ActionFill, Target: `input[name="neocities_path"]`, Value: "/neocities/example"})

	last := steps[len(steps)-3:]
	want := []Step{
		{Action: ActionClick, Target: `input[type="submit"]`},
		{Action: ActionWaitNavigation},
		{Action: ActionAssertContains, Target: "Example Template"},
	}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("create template tail mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEditTemplate(t *testing.T) {
	got := buildDefault(t).Phases[1].Steps
	want := []Step{
		{Action: ActionClickLink, Target: "Example Template"},
		{Action: ActionWaitNavigation},
		{Action: ActionClickLink, Target: "Edit"},
		{Action: ActionWaitNavigation},
		{Action: ActionWaitSelector, Target: `input[name="templateName"]`},
		{Action: ActionClear, Target: `input[name="templateName"]`},
		{Action: ActionFill, Target: `input[name="templateName"]`, Value: "New Template Name"},
		{Action: ActionClick, Target: `button[type="submit"]`},
		{Action: ActionWaitNavigation},
		{Action: ActionAssertContains, Target: "New Template Name"},
		{Action: ActionAssertNoLink, Target: "Example Template"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("edit template mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildCreateEntryUsesPreviewPage(t *testing.T) {
	steps := buildDefault(t).Phases[2].Steps

	assert.Contains(t, steps, Step{Action: ActionFill, Target: `input[name="myfield"]`, Value: "test"})
	assert.Contains(t, steps, Step{Action: ActionFill, Target: `textarea[name="myhtml"]`, Value: "<em>markup</em>"})
	assert.Contains(t, steps, Step{Action: ActionClick, Target: "#preview", OpensPage: PreviewPage})
	assert.Contains(t, steps, Step{Action: ActionAssertContains, Target: "test", Page: PreviewPage})
	assert.Contains(t, steps, Step{Action: ActionAssertElement, Target: `textarea[name="myhtml"]`, Page: PreviewPage})

	// Preview is closed before the main form is submitted
	closeAt, submitAt := -1, -1
	for i, s := range steps {
		if s.Action == ActionClosePage && s.Page == PreviewPage {
			closeAt = i
		}
		if s.Action == ActionClick && s.Target == `input[type="submit"]` {
			submitAt = i
		}
	}
	require.NotEqual(t, -1, closeAt)
	assert.Less(t, closeAt, submitAt)
	for _, s := range steps[closeAt+1:] {
		assert.NotEqual(t, PreviewPage, s.Page)
	}

	assert.Equal(t, Step{Action: ActionAssertListed, Target: "/example/path/test"}, steps[len(steps)-1])
}

func TestBuildValidateAndUpdate(t *testing.T) {
	sc := buildDefault(t)

	want := []Step{{Action: ActionVerifyFile, Target: "mock_data//example/path/test", Value: ""}}
	if diff := cmp.Diff(want, sc.Phases[3].Steps); diff != "" {
		t.Errorf("validate file mismatch (-want +got):\n%s", diff)
	}

	update := []Step{
		{Action: ActionClickLink, Target: "/example/path/test"},
		{Action: ActionWaitNavigation},
		{Action: ActionWaitSelector, Target: `input[name="myfield"]`},
		{Action: ActionClear, Target: `input[name="myfield"]`},
		{Action: ActionFill, Target: `input[name="myfield"]`, Value: "newvalue"},
		{Action: ActionClick, Target: `input[type="submit"]`},
		{Action: ActionWaitNavigation},
		{Action: ActionAssertListed, Target: "/example/path/newvalue"},
		{Action: ActionAssertNotListed, Target: "/example/path/test"},
	}
	if diff := cmp.Diff(update, sc.Phases[4].Steps); diff != "" {
		t.Errorf("update entry mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsInvalidWorkflow(t *testing.T) {
	w, err := DefaultWorkflow()
	require.NoError(t, err)
	w.Template.RenameTo = w.Template.Name

	_, err = Build(w)
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestBuildRejectsEntryPathOutsideBase(t *testing.T) {
	w, err := DefaultWorkflow()
	require.NoError(t, err)
	w.Fields[0].UpdatedValue = "../../../x"

	_, err = Build(w)
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestStepString(t *testing.T) {
	assert.Equal(t, `fill[myfield] "input" = "x"`, Step{Action: ActionFill, Target: "input", Value: "x", Field: "myfield"}.String())
	assert.Equal(t, `assert_contains@preview "test"`, Step{Action: ActionAssertContains, Target: "test", Page: PreviewPage}.String())
	assert.Equal(t, "wait_navigation", Step{Action: ActionWaitNavigation, Page: MainPage}.String())
}
