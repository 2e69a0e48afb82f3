package verify

import (
	"embed"
	"html/template"
	"io"
	"io/fs"

	"github.com/zombor/idverify/internal/capture"
)

//go:embed static/index.html
var indexHTML string

//go:embed static/app.css
var appCSS []byte

//go:embed static/app.js
var appJS []byte

//go:embed static/controllers/*.js
var controllersFS embed.FS

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// indexData is rendered into the page
type indexData struct {
	IDTypes        []IDType
	Selected       IDType
	AcquireFailure string
}

// renderIndex writes the verification form
func renderIndex(w io.Writer) error {
	return indexTemplate.Execute(w, indexData{
		IDTypes:        IDTypes,
		Selected:       DefaultIDType,
		AcquireFailure: capture.AcquireFailedMessage,
	})
}

// getControllersFS returns the embedded controllers filesystem
func getControllersFS() fs.FS {
	fsys, err := fs.Sub(controllersFS, "static/controllers")
	if err != nil {
		panic(err)
	}
	return fsys
}
