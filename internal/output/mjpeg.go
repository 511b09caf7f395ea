package output

import (
	"fmt"
	"io"
	"net/http"
)

// Boundary separates parts of the multipart stream
const Boundary = "FRAME"

// ContentType is the response content type of a stream
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// WritePreamble sends the stream response headers
func WritePreamble(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Age", "0")
	h.Set("Cache-Control", "no-cache, private")
	h.Set("Pragma", "no-cache")
	h.Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	flush(w)
}

// WritePart writes one JPEG as a multipart part
func WritePart(w io.Writer, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	flush(w)
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
