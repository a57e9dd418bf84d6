// server.go - In-memory stand-in for the mouseadmin web app.
// It serves the same forms, links and listings the e2e workflow drives and
// persists entries as empty files under a base directory.
// NOTE: This is NOT a test file - it is shared test infrastructure.

package mouseadmin

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Field is one declared template field
type Field struct {
	Name string
	Type string
}

// Template is a record template
type Template struct {
	ID            int
	Name          string
	EntryPath     string
	TargetPath    string
	Fields        []Field
	IndexTemplate string
	EntryTemplate string
	Entries       []*Entry
}

// Entry is one record created from a template
type Entry struct {
	ID     int
	Values map[string]string
	Path   string
}

// Server implements the mouseadmin pages used by the workflow
type Server struct {
	BaseDir string
	Log     io.Writer

	mu        sync.Mutex
	nextID    int
	templates []*Template
	mux       *http.ServeMux
}

// NewServer creates a server persisting entry files under baseDir
func NewServer(baseDir string, log io.Writer) *Server {
	if log == nil {
		log = io.Discard
	}
	s := &Server{BaseDir: baseDir, Log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /{$}", s.index)
	s.mux.HandleFunc("GET /templates/new", s.newTemplateForm)
	s.mux.HandleFunc("POST /templates/new", s.createTemplate)
	s.mux.HandleFunc("GET /templates/{id}", s.showTemplate)
	s.mux.HandleFunc("GET /templates/{id}/edit", s.editTemplateForm)
	s.mux.HandleFunc("POST /templates/{id}/edit", s.updateTemplate)
	s.mux.HandleFunc("GET /templates/{id}/entries/new", s.newEntryForm)
	s.mux.HandleFunc("POST /templates/{id}/entries", s.createEntry)
	s.mux.HandleFunc("POST /templates/{id}/preview", s.preview)
	s.mux.HandleFunc("GET /templates/{id}/entries/{eid}", s.editEntryForm)
	s.mux.HandleFunc("POST /templates/{id}/entries/{eid}", s.updateEntry)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(s.Log, "%s %s\n", r.Method, r.URL.Path)
	s.mux.ServeHTTP(w, r)
}

// Templates returns a copy of the stored templates
func (s *Server) Templates() []Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, *t)
	}
	return out
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

func render(pattern string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
		return values[placeholder.FindStringSubmatch(m)[1]]
	})
}

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!DOCTYPE html><html><head><title>MouseAdmin</title><style>.hidden{display:none}</style></head><body>{{end}}
{{define "foot"}}</body></html>{{end}}

{{define "index"}}{{template "head"}}
<h1>Templates</h1>
<a href="/templates/new">New Template</a>
<ul class="templates">{{range .}}<li><a href="/templates/{{.ID}}">{{.Name}}</a></li>{{end}}</ul>
{{template "foot"}}{{end}}

{{define "newTemplate"}}{{template "head"}}
<form method="post" action="/templates/new">
<input name="template_name">
<input name="entry_path_template">
<input name="neocities_path">
<div id="fields">
<div class="fieldinput hidden"><input name="field_name"><select name="field_type"><option value="text">text</option><option value="html">html</option><option value="select">select</option></select></div>
</div>
<button type="button" id="new-field">Add field</button>
<textarea name="index_template"></textarea>
<textarea name="entry_template"></textarea>
<input type="submit" value="Create">
</form>
<script>
document.getElementById('new-field').addEventListener('click', () => {
  const copy = document.querySelector('.fieldinput.hidden').cloneNode(true);
  copy.classList.remove('hidden');
  document.getElementById('fields').appendChild(copy);
});
</script>
{{template "foot"}}{{end}}

{{define "showTemplate"}}{{template "head"}}
<h1>{{.Name}}</h1>
<p class="entry-path">{{.EntryPath}}</p>
<a href="/templates/{{.ID}}/edit">Edit</a>
<a href="/templates/{{.ID}}/entries/new">New Entry</a>
<ul class="entries">{{range .Entries}}<li><a href="/templates/{{$.ID}}/entries/{{.ID}}">{{.Path}}</a></li>{{end}}</ul>
{{template "foot"}}{{end}}

{{define "editTemplate"}}{{template "head"}}
<form method="post" action="/templates/{{.ID}}/edit">
<input name="templateName" value="{{.Name}}">
<button type="submit">Save</button>
</form>
{{template "foot"}}{{end}}

{{define "controls"}}{{range .Fields}}
{{if eq .Type "html"}}<textarea name="{{.Name}}">{{index $.Values .Name}}</textarea>
{{else if eq .Type "select"}}<select name="{{.Name}}"><option value="{{index $.Values .Name}}">{{index $.Values .Name}}</option></select>
{{else}}<input name="{{.Name}}" value="{{index $.Values .Name}}">{{end}}
{{end}}{{end}}

{{define "entryForm"}}{{template "head"}}
<h1>{{.Template.Name}}</h1>
<form method="post" action="{{.Action}}">
{{template "controls" .}}
{{if .Preview}}<button id="preview" type="submit" formaction="/templates/{{.Template.ID}}/preview" formtarget="_blank">Preview</button>{{end}}
<input type="submit" value="Save">
</form>
{{template "foot"}}{{end}}

{{define "preview"}}{{template "head"}}
<div class="rendered">{{.Rendered}}</div>
<form>{{template "controls" .}}</form>
{{template "foot"}}{{end}}
`))

type entryView struct {
	Template *Template
	Fields   []Field
	Values   map[string]string
	Action   string
	Preview  bool
	Rendered template.HTML
}

func (s *Server) page(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		fmt.Fprintf(s.Log, "render %s: %v\n", name, err)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Template, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err == nil {
		for _, t := range s.templates {
			if t.ID == id {
				return t, true
			}
		}
	}
	http.NotFound(w, r)
	return nil, false
}

func (s *Server) lookupEntry(w http.ResponseWriter, r *http.Request, t *Template) (*Entry, bool) {
	id, err := strconv.Atoi(r.PathValue("eid"))
	if err == nil {
		for _, e := range t.Entries {
			if e.ID == id {
				return e, true
			}
		}
	}
	http.NotFound(w, r)
	return nil, false
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page(w, "index", s.templates)
}

func (s *Server) newTemplateForm(w http.ResponseWriter, r *http.Request) {
	s.page(w, "newTemplate", nil)
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &Template{
		ID:            s.nextID,
		Name:          r.PostForm.Get("template_name"),
		EntryPath:     r.PostForm.Get("entry_path_template"),
		TargetPath:    r.PostForm.Get("neocities_path"),
		IndexTemplate: r.PostForm.Get("index_template"),
		EntryTemplate: r.PostForm.Get("entry_template"),
	}
	names, types := r.PostForm["field_name"], r.PostForm["field_type"]
	for i, name := range names {
		// The hidden prototype row submits an empty name
		if name == "" || i >= len(types) {
			continue
		}
		t.Fields = append(t.Fields, Field{Name: name, Type: types[i]})
	}
	s.templates = append(s.templates, t)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) showTemplate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.lookup(w, r); ok {
		s.page(w, "showTemplate", t)
	}
}

func (s *Server) editTemplateForm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.lookup(w, r); ok {
		s.page(w, "editTemplate", t)
	}
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	t.Name = r.PostForm.Get("templateName")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) newEntryForm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.page(w, "entryForm", entryView{
		Template: t,
		Fields:   t.Fields,
		Values:   map[string]string{},
		Action:   fmt.Sprintf("/templates/%d/entries", t.ID),
		Preview:  true,
	})
}

func values(t *Template, r *http.Request) map[string]string {
	out := make(map[string]string, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Name] = r.PostForm.Get(f.Name)
	}
	return out
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	vals := values(t, r)
	s.page(w, "preview", entryView{
		Template: t,
		Fields:   t.Fields,
		Values:   vals,
		Rendered: template.HTML(render(t.EntryTemplate, vals)),
	})
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}

	vals := values(t, r)
	e := &Entry{ID: len(t.Entries) + 1, Values: vals, Path: render(t.EntryPath, vals)}
	if err := s.persist(e.Path); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	t.Entries = append(t.Entries, e)

	http.Redirect(w, r, fmt.Sprintf("/templates/%d", t.ID), http.StatusSeeOther)
}

func (s *Server) editEntryForm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	e, ok := s.lookupEntry(w, r, t)
	if !ok {
		return
	}
	s.page(w, "entryForm", entryView{
		Template: t,
		Fields:   t.Fields,
		Values:   e.Values,
		Action:   fmt.Sprintf("/templates/%d/entries/%d", t.ID, e.ID),
	})
}

func (s *Server) updateEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	e, ok := s.lookupEntry(w, r, t)
	if !ok {
		return
	}

	vals := values(t, r)
	newPath := render(t.EntryPath, vals)
	if newPath != e.Path {
		_ = os.Remove(s.resolve(e.Path))
	}
	if err := s.persist(newPath); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	e.Values, e.Path = vals, newPath

	http.Redirect(w, r, fmt.Sprintf("/templates/%d", t.ID), http.StatusSeeOther)
}

func (s *Server) resolve(path string) string {
	return filepath.Join(s.BaseDir, filepath.FromSlash(strings.TrimLeft(path, "/")))
}

// persist writes the empty placeholder file; the body is rendered on demand
func (s *Server) persist(path string) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, nil, 0644)
}
