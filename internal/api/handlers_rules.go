// handlers_rules.go - Layer rules handlers
package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/odb-viewer/backend/internal/parser"
	"gopkg.in/yaml.v3"
)

// maxRulesSize caps an uploaded rules document.
const maxRulesSize = 1 << 20

// RulesHandlerImpl implements the RulesHandler interface
type RulesHandlerImpl struct {
	sessionMgr SessionManager
	policy     Policy

	mu   sync.RWMutex
	info *models.RulesInfo
}

// NewRulesHandler creates a new rules handler. When rules are already
// active (loaded at startup), their metadata is derived from the rules file.
func NewRulesHandler(sessionMgr SessionManager, policy Policy) RulesHandler {
	h := &RulesHandlerImpl{
		sessionMgr: sessionMgr,
		policy:     policy,
	}
	if rules := sessionMgr.Rules(); rules != nil {
		info := &models.RulesInfo{Name: filepath.Base(policy.RulesFile), RuleCount: len(rules.Layers)}
		if st, err := os.Stat(policy.RulesFile); err == nil {
			info.UploadedAt = st.ModTime().UTC().Format(time.RFC3339)
		}
		h.info = info
	}
	return h
}

// HandleGetRules returns the active layer rules as JSON, or as the YAML
// document with ?format=yaml.
func (h *RulesHandlerImpl) HandleGetRules(c echo.Context) error {
	rules := h.sessionMgr.Rules()

	if c.QueryParam("format") == "yaml" {
		if rules == nil {
			return NewNotFoundError("rules", "active")
		}
		data, err := yaml.Marshal(rules)
		if err != nil {
			return NewInternalError("failed to encode rules", err)
		}
		return c.Blob(http.StatusOK, "application/yaml", data)
	}

	h.mu.RLock()
	info := h.info
	h.mu.RUnlock()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"rules": rules,
		"info":  info,
	})
}

// HandleUploadRules replaces the active layer rules. The body is either a
// YAML document or JSON {name, data} with base64 YAML.
func (h *RulesHandlerImpl) HandleUploadRules(c echo.Context) error {
	if !h.policy.AllowRulesUpdate {
		return NewForbiddenError("rules updates are disabled")
	}

	name, data, err := readRulesBody(c)
	if err != nil {
		return err
	}

	rules, err := parser.ParseLayerRulesFromReader(bytes.NewReader(data))
	if err != nil {
		return NewBadRequestError("invalid rules YAML", err)
	}

	if h.policy.RulesFile != "" {
		if err := writeFileAtomic(h.policy.RulesFile, data); err != nil {
			return NewInternalError("failed to persist rules", err)
		}
	}

	h.sessionMgr.SetRules(rules)

	info := &models.RulesInfo{
		Name:       name,
		UploadedAt: time.Now().UTC().Format(time.RFC3339),
		RuleCount:  len(rules.Layers),
	}
	h.mu.Lock()
	h.info = info
	h.mu.Unlock()

	fmt.Printf("[Rules] Loaded %d layer rules from %s\n", info.RuleCount, name)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"rules": rules,
		"info":  info,
	})
}

// HandleMatchRules reports how a file name would be classified.
func (h *RulesHandlerImpl) HandleMatchRules(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return NewValidationError("name")
	}

	resp := matchResponse{Name: name}
	if rules := h.sessionMgr.Rules(); rules != nil {
		if rule, ok := rules.Match(name); ok {
			resp.Pattern = rule.Pattern
		}
		resp.Kind, _ = rules.KindFor(name)
		resp.Color = rules.ColorFor(name)
	}
	if resp.Kind == "" {
		if kind, ok := parser.KindFromName(name); ok {
			resp.Kind = kind
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Request/Response types

type uploadRulesRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded YAML
}

type matchResponse struct {
	Name    string          `json:"name"`
	Pattern string          `json:"pattern,omitempty"`
	Kind    models.FileKind `json:"kind,omitempty"`
	Color   string          `json:"color,omitempty"`
}

// Helper functions

func readRulesBody(c echo.Context) (string, []byte, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var req uploadRulesRequest
		if err := c.Bind(&req); err != nil {
			return "", nil, NewBadRequestError("invalid JSON body", err)
		}
		if req.Data == "" {
			return "", nil, NewValidationError("data")
		}
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return "", nil, NewBadRequestError("invalid base64 data", err)
		}
		if req.Name == "" {
			req.Name = "layer_rules.yaml"
		}
		return req.Name, data, nil
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRulesSize+1))
	if err != nil {
		return "", nil, NewBadRequestError("failed to read body", err)
	}
	if len(data) == 0 {
		return "", nil, NewValidationError("body")
	}
	if len(data) > maxRulesSize {
		return "", nil, NewBadRequestError("rules document too large", nil)
	}
	name := c.QueryParam("name")
	if name == "" {
		name = "layer_rules.yaml"
	}
	return name, data, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
