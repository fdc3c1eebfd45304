// handlers_parse.go - Parse session operation handlers
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/odb-viewer/backend/internal/parser"
	"github.com/odb-viewer/backend/internal/session"
	"github.com/odb-viewer/backend/internal/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// progressStreamTimeout bounds how long one SSE progress stream stays open.
const progressStreamTimeout = 5 * time.Minute

// ParseHandlerImpl implements the ParseHandler interface
type ParseHandlerImpl struct {
	store      storage.Store
	sessionMgr SessionManager
}

// NewParseHandler creates a new parse handler instance
func NewParseHandler(store storage.Store, sessionMgr SessionManager) ParseHandler {
	return &ParseHandlerImpl{
		store:      store,
		sessionMgr: sessionMgr,
	}
}

// HandleStartParse starts a new parsing session over one or more layer files
func (h *ParseHandlerImpl) HandleStartParse(c echo.Context) error {
	var req startParseRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	fileIDs := req.normalizeFileIDs()
	if len(fileIDs) == 0 {
		return NewValidationError("fileId or fileIds")
	}

	refs, err := h.resolveFiles(fileIDs)
	if err != nil {
		return err
	}

	sess, err := h.sessionMgr.StartSession(refs)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			return sessionError(err, "")
		}
		return NewBadRequestError("failed to start session", err)
	}

	return c.JSON(http.StatusAccepted, sess)
}

// HandleParseStatus returns the current status of a parsing session
func (h *ParseHandlerImpl) HandleParseStatus(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	// Touch session to prevent cleanup while being viewed
	h.sessionMgr.TouchSession(id)

	return c.JSON(http.StatusOK, sess)
}

// HandleSessionKeepAlive extends session lifetime for active viewing
func (h *ParseHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if ok := h.sessionMgr.TouchSession(id); !ok {
		return NewNotFoundError("session", id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleDeleteSession cancels a session and releases its feature store
func (h *ParseHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if !h.sessionMgr.DeleteSession(id) {
		return NewNotFoundError("session", id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleParseProgressStream streams parsing progress via SSE
func (h *ParseHandlerImpl) HandleParseProgressStream(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	setSSEHeaders(c)

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		sendSSEError(c, "session not found")
		return nil
	}
	sendSSEData(c, sess)
	if isFinished(sess.Status) {
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.NewTimer(progressStreamTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil

		case <-ticker.C:
			sess, ok := h.sessionMgr.GetSession(id)
			if !ok {
				sendSSEError(c, "session not found")
				return nil
			}

			sendSSEData(c, sess)

			if isFinished(sess.Status) {
				return nil
			}

		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

// HandleGetFeatures returns a filtered page of session features
func (h *ParseHandlerImpl) HandleGetFeatures(c echo.Context) error {
	resp, err := h.queryFeatures(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleGetFeaturesMsgpack returns the same page as HandleGetFeatures in
// MessagePack format
func (h *ParseHandlerImpl) HandleGetFeaturesMsgpack(c echo.Context) error {
	resp, err := h.queryFeatures(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *ParseHandlerImpl) queryFeatures(c echo.Context) (*featuresResponse, error) {
	id := c.Param("sessionId")
	if id == "" {
		return nil, NewValidationError("sessionId")
	}

	q, err := parseFeatureQuery(c)
	if err != nil {
		return nil, err
	}

	records, total, err := h.sessionMgr.GetFeatures(c.Request().Context(), id, q)
	if err != nil {
		return nil, sessionError(err, id)
	}
	h.sessionMgr.TouchSession(id)

	return &featuresResponse{
		Features: records,
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
	}, nil
}

// HandleGetFileFeatures returns every feature of one file in file order
func (h *ParseHandlerImpl) HandleGetFileFeatures(c echo.Context) error {
	id := c.Param("sessionId")
	fileID := c.Param("fileId")
	if id == "" {
		return NewValidationError("sessionId")
	}
	if fileID == "" {
		return NewValidationError("fileId")
	}

	features, err := h.sessionMgr.GetFileFeatures(c.Request().Context(), id, fileID)
	if err != nil {
		return sessionError(err, id)
	}
	h.sessionMgr.TouchSession(id)

	records := make([]models.FeatureRecord, len(features))
	for i, f := range features {
		records[i] = models.FeatureRecord{FileID: fileID, Seq: i, Kind: f.Kind(), Feature: f}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"fileId":   fileID,
		"features": records,
		"total":    len(records),
	})
}

// HandleGetWarnings returns the parse warnings of every file in the session,
// optionally narrowed by fileId and kind.
func (h *ParseHandlerImpl) HandleGetWarnings(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	fileID := c.QueryParam("fileId")
	kind := models.WarningKind(c.QueryParam("kind"))

	warnings := make([]fileWarning, 0, sess.WarningCount)
	for _, res := range sess.Files {
		if fileID != "" && res.FileID != fileID {
			continue
		}
		for _, w := range res.Warnings {
			if kind != "" && w.Kind != kind {
				continue
			}
			warnings = append(warnings, fileWarning{FileID: res.FileID, ParseWarning: w})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"warnings": warnings,
		"total":    len(warnings),
	})
}

// HandleGetOutline returns the board outline as SVG path data
func (h *ParseHandlerImpl) HandleGetOutline(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	outline, res, err := h.sessionMgr.GetOutline(c.Request().Context(), id, c.QueryParam("fileId"))
	if err != nil {
		return sessionError(err, id)
	}

	return c.JSON(http.StatusOK, outlineResponse{
		FileID:  res.FileID,
		Name:    res.Name,
		Units:   res.Units,
		Outline: outline,
	})
}

// HandleGetOutlineSVG renders the board outline as a standalone SVG document.
// The fill colour comes from ?color, else from the layer rules.
func (h *ParseHandlerImpl) HandleGetOutlineSVG(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	color := c.QueryParam("color")
	if color != "" && !validColor(color) {
		return NewValidationError("color")
	}

	outline, res, err := h.sessionMgr.GetOutline(c.Request().Context(), id, c.QueryParam("fileId"))
	if err != nil {
		return sessionError(err, id)
	}

	if color == "" {
		if rules := h.sessionMgr.Rules(); rules != nil {
			color = rules.ColorFor(res.Name)
		}
	}

	return c.Blob(http.StatusOK, "image/svg+xml", []byte(parser.RenderOutlineSVG(outline, color)))
}

// Request/Response types

type startParseRequest struct {
	FileID  string   `json:"fileId"`
	FileIDs []string `json:"fileIds"`
}

type fileWarning struct {
	FileID string `json:"fileId"`
	models.ParseWarning
}

type outlineResponse struct {
	FileID  string               `json:"fileId"`
	Name    string               `json:"name"`
	Units   string               `json:"units"`
	Outline *models.BoardOutline `json:"outline"`
}

// Helper functions

func (r *startParseRequest) normalizeFileIDs() []string {
	if len(r.FileIDs) > 0 {
		return r.FileIDs
	}
	if r.FileID != "" {
		return []string{r.FileID}
	}
	return nil
}

// resolveFiles looks up the display name and body path of every file.
func (h *ParseHandlerImpl) resolveFiles(fileIDs []string) ([]session.FileRef, error) {
	refs := make([]session.FileRef, 0, len(fileIDs))
	for _, id := range fileIDs {
		info, err := h.store.Get(id)
		if err != nil {
			return nil, NewNotFoundError("file", id)
		}
		path, err := h.store.GetFilePath(id)
		if err != nil {
			return nil, NewNotFoundError("file", id)
		}
		refs = append(refs, session.FileRef{ID: id, Name: info.Name, Path: path})
	}
	return refs, nil
}

func isFinished(s models.SessionStatus) bool {
	return s == models.SessionStatusComplete || s == models.SessionStatusError
}

// validColor accepts #rgb/#rrggbb hex and plain colour names.
func validColor(s string) bool {
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) != 3 && len(hex) != 6 {
			return false
		}
		for _, r := range hex {
			if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
				return false
			}
		}
		return true
	}
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
