package desktop

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Entry holds every field substituted into the generated desktop file.
// Rendering goes through a template over this struct; callers never build
// the file by string concatenation.
type Entry struct {
	Name           string
	GenericName    string
	Comment        string
	Exec           string
	Args           []string
	Icon           string
	Categories     []string
	MimeTypes      []string
	Keywords       []string
	StartupWMClass string
	Terminal       bool
}

var entryTmpl = template.Must(template.New("desktop").Funcs(template.FuncMap{
	"join": func(sep string, elems []string) string {
		return strings.Join(elems, sep)
	},
	"escape": escapeValue,
}).Parse(`[Desktop Entry]
Type=Application
Name={{escape .Name}}
{{- if .GenericName}}
GenericName={{escape .GenericName}}
{{- end}}
{{- if .Comment}}
Comment={{escape .Comment}}
{{- end}}
Exec={{escape .Exec}}{{range .Args}} {{escape .}}{{end}}
{{- if .Icon}}
Icon={{escape .Icon}}
{{- end}}
Terminal={{if .Terminal}}true{{else}}false{{end}}
{{- if .Categories}}
Categories={{join ";" .Categories}};
{{- end}}
{{- if .MimeTypes}}
MimeType={{join ";" .MimeTypes}};
{{- end}}
{{- if .Keywords}}
Keywords={{join ";" .Keywords}};
{{- end}}
{{- if .StartupWMClass}}
StartupWMClass={{escape .StartupWMClass}}
{{- end}}
`))

// escapeValue applies the desktop entry escaping rules for values:
// backslashes first, then the control characters the format reserves.
func escapeValue(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"\n", `\n`,
		"\t", `\t`,
		"\r", `\r`,
	)

	return r.Replace(s)
}

func (e *Entry) Render(w io.Writer) error {
	if e.Name == "" || e.Exec == "" {
		return errors.Errorf("desktop entry requires Name and Exec")
	}

	return entryTmpl.Execute(w, e)
}

// Write renders the entry into dir/<id>.desktop.
func (e *Entry) Write(dir, id string) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, id+".desktop"))
	if err != nil {
		return err
	}

	defer f.Close()

	return e.Render(f)
}
