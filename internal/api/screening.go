package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"cvtriage/internal/models"
	"cvtriage/internal/screening"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var acceptedTypes = []string{models.MIMETypePDF, models.MIMETypePNG, models.MIMETypeJPEG}

// userSession resolves the caller's screening session and refreshes its
// usage and limit from the profile.
func (h *Handler) userSession(c *gin.Context) (*screening.Session, bool) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return nil, false
	}
	p, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("load profile failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return nil, false
	}
	sess := h.sessions.Session(userID)
	sess.SyncProfile(p)
	return sess, true
}

func (h *Handler) getScreeningSession(c *gin.Context) {
	sess, ok := h.userSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *Handler) setJob(c *gin.Context) {
	var req models.JobConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sess := h.sessions.Session(userID)
	sess.SetJob(req)
	c.JSON(http.StatusOK, gin.H{"job": sess.Job()})
}

type uploadResult struct {
	Name    string                `json:"name"`
	File    *models.CandidateFile `json:"file,omitempty"`
	Warning string                `json:"warning,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func (h *Handler) uploadFiles(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	sess := h.sessions.Session(userID)
	results := make([]uploadResult, 0, len(headers))
	added := 0
	for _, fh := range headers {
		res := h.acceptUpload(sess, fh)
		if res.File != nil {
			added++
		}
		results = append(results, res)
	}
	status := http.StatusCreated
	if added == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"files": results})
}

func (h *Handler) acceptUpload(sess *screening.Session, fh *multipart.FileHeader) uploadResult {
	res := uploadResult{Name: fh.Filename}
	if fh.Size > h.cfg.MaxUploadBytes {
		res.Error = fmt.Sprintf("arquivo excede o limite de %d MB", h.cfg.MaxUploadBytes>>20)
		return res
	}
	data, err := readUpload(fh, h.cfg.MaxUploadBytes)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	mimeType := resolveMIME(fh.Header.Get("Content-Type"), fh.Filename, data)
	file, err := sess.AddFile(fh.Filename, mimeType, data)
	if err != nil {
		if errors.Is(err, screening.ErrUnsupportedType) {
			res.Error = "Formato não suportado. Envie PDF, PNG ou JPEG."
		} else {
			res.Error = err.Error()
		}
		return res
	}
	res.File = file
	if int64(len(data)) > h.cfg.SoftUploadBytes {
		res.Warning = fmt.Sprintf("arquivo acima de %d MB pode demorar para ser analisado", h.cfg.SoftUploadBytes>>20)
	}
	h.logger.Debug("file queued",
		zap.String("user_id", sess.UserID()),
		zap.String("file_id", file.ID),
		zap.String("mime_type", mimeType),
		zap.Int64("size", file.Size),
	)
	return res
}

func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("arquivo excede o limite de %d MB", limit>>20)
	}
	return data, nil
}

// resolveMIME takes the declared type, then the extension, then the
// sniffed content. The result may still be an unsupported type.
func resolveMIME(declared, filename string, data []byte) string {
	if mt := acceptedType(declared); mt != "" {
		return mt
	}
	if mt := acceptedType(mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))); mt != "" {
		return mt
	}
	detected := mimetype.Detect(data)
	for _, mt := range acceptedTypes {
		if detected.Is(mt) {
			return mt
		}
	}
	return detected.String()
}

func acceptedType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	if mt == "image/jpg" {
		mt = models.MIMETypeJPEG
	}
	for _, accepted := range acceptedTypes {
		if mt == accepted {
			return mt
		}
	}
	return ""
}

func (h *Handler) removeFile(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sess := h.sessions.Session(userID)
	id := c.Param("id")
	if sess.RemoveFile(id) {
		c.Status(http.StatusNoContent)
		return
	}
	for _, f := range sess.Snapshot().Files {
		if f.ID == id {
			c.JSON(http.StatusConflict, gin.H{"error": "file is being analyzed"})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
}

func (h *Handler) clearSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.sessions.Session(userID).Clear(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// runAnalysis starts a batch and streams its events until the report.
// The batch keeps going if the client disconnects.
func (h *Handler) runAnalysis(c *gin.Context) {
	sess, ok := h.userSession(c)
	if !ok {
		return
	}

	stream := newRunStream(runEventBuffer, h.logger)
	unsubscribe := sess.Subscribe(stream.listen)
	defer unsubscribe()

	done, err := sess.Start(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, screening.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, screening.ErrQuotaExceeded):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, screening.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("start run failed", zap.String("user_id", sess.UserID()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start analysis"})
		}
		return
	}

	send, ok := h.openStream(c)
	if !ok {
		return
	}
	stream.relay(c.Request.Context(), done, send)
}

// runEventBuffer bounds the events queued for one run stream.
var runEventBuffer = 32

// runStream queues session events for one SSE client. Publish runs on the
// batch goroutine, so listen never blocks: events that do not fit are
// dropped and the closing done event is rebuilt from the run report.
type runStream struct {
	events chan screening.Event
	logger *zap.Logger
}

func newRunStream(size int, logger *zap.Logger) *runStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &runStream{events: make(chan screening.Event, size), logger: logger}
}

func (r *runStream) listen(evt screening.Event) {
	select {
	case r.events <- evt:
	default:
		r.logger.Debug("run event dropped for slow client", zap.String("event", string(evt.Type)))
	}
}

// relay writes queued events until the run reports or ctx ends. The done
// event is always the last one written.
func (r *runStream) relay(ctx context.Context, done <-chan screening.RunReport, send func(event string, payload interface{}) error) {
	forward := func(evt screening.Event) (bool, error) {
		if err := send(string(evt.Type), evt); err != nil {
			return false, err
		}
		return evt.Type == screening.EventDone, nil
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-r.events:
			if finished, err := forward(evt); finished || err != nil {
				return
			}
		case report, ok := <-done:
			if !ok {
				return
			}
			// The done event is published before the report is sent, so
			// whatever is still queued belongs to this run.
		drain:
			for {
				select {
				case evt := <-r.events:
					if finished, err := forward(evt); finished || err != nil {
						return
					}
				default:
					break drain
				}
			}
			final := report
			_, _ = forward(screening.Event{
				Type:   screening.EventDone,
				Usage:  report.Usage,
				Limit:  report.Limit,
				Notice: report.Notice,
				Report: &final,
			})
			return
		}
	}
}
