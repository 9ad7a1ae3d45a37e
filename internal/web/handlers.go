package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/core"
	"github.com/JonMunkholm/ProgramUpload/internal/ingest"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// multipartMemory is how much of a multipart upload is kept in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// upload is the decoded body of an upload request.
type upload struct {
	content  []byte
	format   string
	timezone string
}

// readUpload accepts either a multipart form with a "file" part or a raw
// body. format and timezone come from form fields or query parameters; a
// raw body without a format is typed by its Content-Type.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, fmt.Errorf("%w: invalid form: %w", errBadRequest, err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: no file provided", errBadRequest)
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		return &upload{content: content, format: r.FormValue("format"), timezone: r.FormValue("timezone")}, nil
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: no file provided", errBadRequest)
	}
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = formatForMediaType(mediaType)
	}
	return &upload{content: content, format: format, timezone: q.Get("timezone")}, nil
}

func formatForMediaType(mediaType string) string {
	switch mediaType {
	case "text/csv":
		return "table"
	case "application/xml", "text/xml":
		return "markup"
	case "application/json":
		return "legacy-hierarchical"
	}
	return ""
}

func (s *Server) programRequest(w http.ResponseWriter, r *http.Request) (ingest.Request, error) {
	up, err := s.readUpload(w, r)
	if err != nil {
		return ingest.Request{}, err
	}
	return ingest.Request{
		Content:      up.content,
		ConferenceID: chi.URLParam(r, "conferenceID"),
		Timezone:     up.timezone,
		Format:       up.format,
	}, nil
}

// handleUploadProgram runs a program upload and returns its summary.
func (s *Server) handleUploadProgram(w http.ResponseWriter, r *http.Request) {
	req, err := s.programRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := s.service.UploadProgram(withClient(r.Context(), r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePreviewProgram reports what an upload would create without writing.
func (s *Server) handlePreviewProgram(w http.ResponseWriter, r *http.Request) {
	req, err := s.programRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := s.service.PreviewProgram(withClient(r.Context(), r), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRoomStreams(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := s.service.UploadRoomStreams(withClient(r.Context(), r), chi.URLParam(r, "conferenceID"), up.content)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reassignAuthorsRequest struct {
	PersonIDs []uuid.UUID `json:"personIds"`
}

func (s *Server) handleReassignAuthors(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid item id: %v", errBadRequest, err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var body reassignAuthorsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid body: %w", errBadRequest, err))
		return
	}

	item, err := s.service.ReassignAuthors(withClient(r.Context(), r), chi.URLParam(r, "conferenceID"), itemID, body.PersonIDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleUploadHistory(w http.ResponseWriter, r *http.Request) {
	limit := core.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}

	records, err := s.service.History(r.Context(), chi.URLParam(r, "conferenceID"), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": records})
}

func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"formats": ingest.FormatTags()})
}

type healthResponse struct {
	Status  string                   `json:"status"`
	Store   string                   `json:"store,omitempty"`
	Uploads core.UploadLimiterStatus `json:"uploads"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uploads: s.service.Limiter().Status()}
	status := http.StatusOK

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = strings.TrimSpace(err.Error())
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
