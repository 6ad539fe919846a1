package extraction

import (
	"embed"
	"io/fs"
)

//go:embed templates
var templateFiles embed.FS

// Templates returns the packaged extraction templates, laid out as
// <format>/v<version>/<query>.sql.
func Templates() fs.FS {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}
