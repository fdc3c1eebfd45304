// handlers.go - Shared request parsing and streaming helpers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/odb-viewer/backend/internal/config"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/odb-viewer/backend/internal/parser"
	"seehuhn.de/go/geom/rect"
)

const (
	defaultPageSize = 1000
	maxPageSize     = 10000
)

// Policy carries the configuration switches the handlers enforce.
type Policy struct {
	AllowFileDeletion bool
	AllowRulesUpdate  bool
	RulesFile         string // where uploaded layer rules are persisted, empty to keep them in memory
	FileTypeAllowed   func(name string) bool
}

// PolicyFromConfig builds the handler policy from the XML configuration.
func PolicyFromConfig(cfg *config.AppConfig) Policy {
	return Policy{
		AllowFileDeletion: cfg.Security.AllowFileDeletion,
		AllowRulesUpdate:  cfg.Security.AllowRulesUpdate,
		RulesFile:         cfg.Storage.LayerRulesFile,
		FileTypeAllowed:   cfg.FileTypeAllowed,
	}
}

// DefaultPolicy allows everything; used by tests and when no config is loaded.
func DefaultPolicy() Policy {
	return Policy{AllowFileDeletion: true, AllowRulesUpdate: true}
}

func (p Policy) fileTypeAllowed(name string) bool {
	return p.FileTypeAllowed == nil || p.FileTypeAllowed(name)
}

// featuresResponse is one page of session features.
type featuresResponse struct {
	Features []models.FeatureRecord `json:"features" msgpack:"features"`
	Page     int                    `json:"page" msgpack:"page"`
	PageSize int                    `json:"pageSize" msgpack:"pageSize"`
	Total    int                    `json:"total" msgpack:"total"`
}

// parseFeatureQuery reads kind, fileId, minX/minY/maxX/maxY, page and
// pageSize. The window needs all four coordinates or none.
func parseFeatureQuery(c echo.Context) (parser.FeatureQuery, error) {
	q := parser.FeatureQuery{
		FileID: c.QueryParam("fileId"),
		Page:   1,
	}

	for _, raw := range c.QueryParams()["kind"] {
		for _, k := range strings.Split(raw, ",") {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			kind := models.FeatureKind(k)
			if !knownFeatureKind(kind) {
				return q, NewBadRequestError(fmt.Sprintf("unknown feature kind %q", k), nil)
			}
			q.Kinds = append(q.Kinds, kind)
		}
	}

	window, err := parseWindow(c)
	if err != nil {
		return q, err
	}
	q.Window = window

	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return q, NewValidationError("page")
		}
		q.Page = page
	}
	q.PageSize = defaultPageSize
	if v := c.QueryParam("pageSize"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return q, NewValidationError("pageSize")
		}
		if size > maxPageSize {
			size = maxPageSize
		}
		q.PageSize = size
	}
	return q, nil
}

func parseWindow(c echo.Context) (*rect.Rect, error) {
	names := [4]string{"minX", "minY", "maxX", "maxY"}
	var vals [4]float64
	set := 0
	for i, name := range names {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewValidationError(name)
		}
		vals[i] = f
		set++
	}
	switch set {
	case 0:
		return nil, nil
	case 4:
	default:
		return nil, NewBadRequestError("minX, minY, maxX and maxY must be given together", nil)
	}
	if vals[0] > vals[2] || vals[1] > vals[3] {
		return nil, NewBadRequestError("window minimum exceeds maximum", nil)
	}
	return &rect.Rect{LLx: vals[0], LLy: vals[1], URx: vals[2], URy: vals[3]}, nil
}

func knownFeatureKind(k models.FeatureKind) bool {
	switch k {
	case models.FeatureKindPad, models.FeatureKindLine, models.FeatureKindArc,
		models.FeatureKindText, models.FeatureKindBarcode, models.FeatureKindSurface:
		return true
	}
	return false
}

func setSSEHeaders(c echo.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}
