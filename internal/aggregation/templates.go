package aggregation

import (
	"embed"
	"io/fs"
)

//go:embed templates
var templateFiles embed.FS

// Templates returns the packaged aggregation templates.
func Templates() fs.FS {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}
