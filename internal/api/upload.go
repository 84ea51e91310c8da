package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"chat-relay/internal/middleware"
	"chat-relay/internal/types"
	"chat-relay/internal/upload"
)

const uploadField = "file"

// UploadHandler streams the multipart field "file" to the store and replies
// with the URL it can be fetched from.
func UploadHandler(store *upload.DiskStore, maxBytes int64, baseURL string, log zerolog.Logger) http.HandlerFunc {
	log = log.With().Str("component", "upload").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}

		part, err := filePart(r)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			log.Warn().Err(err).Str("remote", middleware.ClientIP(r)).Msg("upload rejected")
			writeError(w, status, err.Error())
			return
		}
		defer part.Close()

		name, err := store.Store(r.Context(), part, part.FileName())
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			log.Error().Err(err).Msg("upload failed")
			writeError(w, http.StatusInternalServerError, "file could not be stored")
			return
		}

		writeJSON(w, http.StatusOK, types.UploadResponse{FileURL: fileURL(r, baseURL, name)})
	}
}

// filePart advances the multipart body to the upload field.
func filePart(r *http.Request) (fileReader, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", upload.ErrNoFile, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, upload.ErrNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", upload.ErrNoFile, err)
		}
		if part.FormName() == uploadField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

type fileReader interface {
	io.ReadCloser
	FileName() string
}

// fileURL builds the public URL of a stored file. X-Forwarded-Proto only
// reaches here from a trusted proxy.
func fileURL(r *http.Request, baseURL, name string) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(name)
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	return (&url.URL{Scheme: scheme, Host: r.Host, Path: "/" + name}).String()
}

// FileHandler serves a previously uploaded file by its stored name.
func FileHandler(store *upload.DiskStore, log zerolog.Logger) http.HandlerFunc {
	log = log.With().Str("component", "files").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		f, err := store.Open(chi.URLParam(r, "name"))
		if err != nil {
			if errors.Is(err, upload.ErrNotFound) {
				writeError(w, http.StatusNotFound, "file not found")
				return
			}
			log.Error().Err(err).Msg("open failed")
			writeError(w, http.StatusInternalServerError, "file could not be read")
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", f.ContentType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, f.Name, f.ModTime, f)
	}
}
