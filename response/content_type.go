package response

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
)

// DetectContentType guesses a media type from the file extension and falls
// back to sniffing the first 512 bytes. r is rewound afterwards.
func DetectContentType(filename string, r io.ReadSeeker) string {
	if ctype := mime.TypeByExtension(filepath.Ext(filename)); ctype != "" {
		return ctype
	}

	buf := make([]byte, 512)
	n, _ := io.ReadFull(r, buf)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "application/octet-stream"
	}
	return http.DetectContentType(buf[:n])
}
