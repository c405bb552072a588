package pipeline

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// static serves files under a public root. A path is served only when it
// names an existing file or a directory containing index.html.
type static struct {
	fsys  fs.FS
	files http.Handler
}

func newStatic(root string) *static {
	if root == "" {
		return &static{}
	}
	fsys := os.DirFS(root)
	return &static{fsys: fsys, files: http.FileServerFS(fsys)}
}

// exists reports whether urlPath resolves to something servable.
func (s *static) exists(urlPath string) bool {
	if s.fsys == nil {
		return false
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		name = "."
	}
	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return true
	}
	index, err := fs.Stat(s.fsys, path.Join(name, "index.html"))
	return err == nil && !index.IsDir()
}

// or serves the file for the request when one exists, otherwise next.
func (s *static) or(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodGet || r.Method == http.MethodHead) && s.exists(r.URL.Path) {
			s.files.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
