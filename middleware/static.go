package middleware

import (
	"bytes"
	"embed"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/response"
	"github.com/shravanasati/restserver/router"
	"github.com/shravanasati/restserver/server"
)

// NamedReadSeekerFS is a custom FS interface which returns [response.NamedReadSeeker].
// It abstracts filesystem operations for serving static files from different sources.
type NamedReadSeekerFS interface {
	// Open opens a file by name and returns a NamedReadSeeker that can read and seek within the file.
	Open(name string) (response.NamedReadSeeker, error)
}

// DirFS abstracts directory filesystem and implements the NamedReadSeekerFS interface.
// It serves files from a specified root directory on the filesystem.
type DirFS struct {
	root string
}

// NewDirFS creates a new DirFS instance that serves files from the given root directory.
func NewDirFS(root string) *DirFS {
	return &DirFS{root: root}
}

func (d *DirFS) Open(name string) (response.NamedReadSeeker, error) {
	f, err := os.Open(filepath.Join(d.root, name))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// EmbedFS implements the NamedReadSeekerFS interface for embedded filesystems.
// It serves files from Go's embed.FS, allowing static files to be embedded in the binary.
type EmbedFS struct {
	fsys embed.FS
}

// NewEmbedFS creates a new EmbedFS instance wrapping the given embedded filesystem.
func NewEmbedFS(fsys embed.FS) *EmbedFS {
	return &EmbedFS{fsys: fsys}
}

func (e *EmbedFS) Open(name string) (response.NamedReadSeeker, error) {
	f, err := e.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return &embedFile{name: name, data: bytes.NewReader(nil), info: info}, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &embedFile{
		name: name,
		data: bytes.NewReader(data),
		info: info,
	}, nil
}

// embedFile implements response.NamedReadSeeker for files within [embed.FS].
type embedFile struct {
	name string
	data io.ReadSeeker
	info fs.FileInfo
}

func (f *embedFile) Read(p []byte) (int, error)         { return f.data.Read(p) }
func (f *embedFile) Seek(o int64, w int) (int64, error) { return f.data.Seek(o, w) }
func (f *embedFile) Close() error                       { return nil }
func (f *embedFile) Stat() (fs.FileInfo, error)         { return f.info, nil }
func (f *embedFile) Name() string                       { return f.name }

// NewStaticHandler serves files from fsys for targets under prefix, so
// "/static/css/site.css" with prefix "/static" opens "css/site.css".
// Directories are answered with their index.html. Requests outside prefix,
// and files that do not exist, get the session's not-found answer.
//
// The handler suits [server.Server.NotFound], which sees targets of any
// depth, or a route ending in a placeholder for single-level directories.
func NewStaticHandler(prefix string, fsys NamedReadSeekerFS) server.Handler {
	prefix = strings.TrimRight(prefix, "/")

	return server.HandlerFunc(func(sink server.ResponseSink, r *request.Request) {
		reqPath := r.Path()
		rel, ok := strings.CutPrefix(reqPath, prefix)
		if !ok || (rel != "" && rel[0] != '/') {
			sink.SendNotFound(r.Target)
			return
		}

		segments, err := router.SplitPath(rel + "/")
		if err != nil {
			sink.SendBadRequest("Illegal request-target")
			return
		}

		// Security: clean the path and reject if it contains ".." or is absolute.
		cleanedPath := path.Clean(strings.Join(segments[1:], "/"))
		if strings.Contains(cleanedPath, "..") || path.IsAbs(cleanedPath) {
			sink.SendNotFound(r.Target)
			return
		}

		f, err := fsys.Open(cleanedPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				sink.SendNotFound(r.Target)
				return
			}
			sink.SendServerError(err.Error())
			return
		}

		stat, err := f.Stat()
		if err != nil {
			f.Close()
			sink.SendServerError(err.Error())
			return
		}

		if stat.IsDir() {
			f.Close()
			indexFile, err := fsys.Open(path.Join(cleanedPath, "index.html"))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					sink.SendNotFound(r.Target)
					return
				}
				sink.SendServerError(err.Error())
				return
			}
			sink.Send(response.NewFileResponse(indexFile))
			return
		}

		sink.Send(response.NewFileResponse(f))
	})
}
