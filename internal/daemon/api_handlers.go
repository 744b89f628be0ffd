package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"reimagine/internal/api"
	"reimagine/internal/queue"
	"reimagine/internal/workflow"
)

const (
	maxUploadBytes   = 256 << 20
	defaultLogLimit  = 200
	maxLogLimit      = 1000
	logLongPollLimit = 25 * time.Second
)

func (s *apiServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Workflow:   api.FromStatusSummary(status.Workflow),
		PID:        status.PID,
		APIBind:    status.APIBind,
		SocketPath: status.SocketPath,
		SessionLog: status.SessionLog,
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromStats(stats))
}

func (s *apiServer) handleStart(w http.ResponseWriter, _ *http.Request) {
	changed := s.daemon.Start()
	s.writeJSON(w, http.StatusOK, api.EngineActionResult{Changed: changed, Running: s.daemon.Running()})
}

func (s *apiServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	changed := s.daemon.Stop()
	s.writeJSON(w, http.StatusOK, api.EngineActionResult{Changed: changed, Running: s.daemon.Running()})
}

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	items, err := s.daemon.Items(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: api.FromQueueItems(items)})
}

func (s *apiServer) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form with files: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, "no files provided")
		return
	}
	files := make([]queue.Image, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, queue.MaxSourceBytes+1))
		_ = f.Close()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		declared, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
		files = append(files, queue.Image{Name: header.Filename, MIMEType: declared, Data: data})
	}

	items, err := s.daemon.AddFiles(r.Context(), files)
	switch {
	case errors.Is(err, queue.ErrNotImage), errors.Is(err, queue.ErrEmptySource):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrSourceTooBig):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.QueueListResponse{Items: api.FromQueueItems(items)})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookupItem(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: api.FromQueueItem(item)})
}

func (s *apiServer) handleQueueResult(w http.ResponseWriter, r *http.Request) {
	item, ok := s.lookupItem(w, r)
	if !ok {
		return
	}
	result, ok := api.ResultFromItem(item)
	if !ok {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("item %d has no result (status %s)", item.ID, item.Status))
		return
	}
	if len(result.Data) == 0 {
		http.Redirect(w, r, result.URL, http.StatusTemporaryRedirect)
		return
	}
	contentType := result.MimeType
	if contentType == "" {
		contentType = queue.SniffMIME(result.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	if result.Name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": result.Name}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *apiServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	outcome, err := s.daemon.Retry(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	switch outcome {
	case api.RetryItemNotFound:
		status = http.StatusNotFound
	case api.RetryItemNotFailed:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, api.RetryItemResult{ID: id, Outcome: outcome})
}

func (s *apiServer) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	outcome, err := s.daemon.Remove(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	switch outcome {
	case api.RemoveItemNotFound:
		status = http.StatusNotFound
	case api.RemoveItemActive:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, api.RemoveItemResult{ID: id, Outcome: outcome})
}

func (s *apiServer) handleQueueReset(w http.ResponseWriter, r *http.Request) {
	s.writeBulk(w)(s.daemon.ResetAll(r.Context()))
}

func (s *apiServer) handleQueueClearFinished(w http.ResponseWriter, r *http.Request) {
	s.writeBulk(w)(s.daemon.ClearFinished(r.Context()))
}

func (s *apiServer) writeBulk(w http.ResponseWriter) func(api.BulkActionResult, error) {
	return func(result api.BulkActionResult, err error) {
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status := http.StatusOK
		if !result.Applied {
			status = http.StatusConflict
		}
		s.writeJSON(w, status, result)
	}
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)
	wait := parseBool(query.Get("wait"))

	if parseBool(query.Get("tail")) && since == 0 && !wait {
		records, next := s.daemon.Events().Tail(limit)
		s.writeJSON(w, http.StatusOK, api.NewLogBatch(records, next, s.daemon.Events().Dropped()))
		return
	}

	ctx := r.Context()
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, logLongPollLimit)
		defer cancel()
	}
	records, next, err := s.daemon.Logs(ctx, since, limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.NewLogBatch(records, next, s.daemon.Events().Dropped()))
}

func (s *apiServer) handleLogsClear(w http.ResponseWriter, _ *http.Request) {
	s.daemon.ClearLogs()
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromSettings(s.daemon.Settings()))
}

func (s *apiServer) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var update api.SettingsUpdate
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
		return
	}
	if err := update.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings := s.daemon.UpdateSettings(func(settings *workflow.Settings) {
		update.Apply(settings)
	})
	s.writeJSON(w, http.StatusOK, api.FromSettings(settings))
}

func (s *apiServer) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid queue item id")
		return 0, false
	}
	return id, true
}

func (s *apiServer) lookupItem(w http.ResponseWriter, r *http.Request) (*queue.Item, bool) {
	id, ok := s.itemID(w, r)
	if !ok {
		return nil, false
	}
	item, err := s.daemon.Item(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return nil, false
	}
	return item, true
}

func parseBool(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}
