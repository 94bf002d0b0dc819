package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abramin/upstream/internal/search"
	"github.com/abramin/upstream/internal/tree"
	"github.com/abramin/upstream/internal/workspace"
)

// keysRequest is the body shared by the node endpoints.
type keysRequest struct {
	Keys []string `json:"keys" binding:"required"`
}

type searchRequest struct {
	File       string `json:"file"`
	Line       int    `json:"line"` // 0-based
	Key        string `json:"key"`  // re-root at a call site, or re-search a declaration with exhaustive
	Exhaustive bool   `json:"exhaustive"`
	Force      bool   `json:"force"`
}

type searchResponse struct {
	Root       string `json:"root"`
	Label      string `json:"label"`
	Strategy   string `json:"strategy,omitempty"`
	Methods    int    `json:"methods"`
	References int    `json:"references"`
	DurationMS int64  `json:"durationMs"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}

type commentRequest struct {
	Key  string `json:"key" binding:"required"`
	Text string `json:"text"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "strategies": s.ws.Strategies()})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.ws.Stats()
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleHistory handles GET /api/history?limit=n
func (s *Server) handleHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	history, err := s.ws.History(limit)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// handleTrees returns the flattened forest. ?collapsed=true leaves out the
// contents of collapsed nodes.
func (s *Server) handleTrees(c *gin.Context) {
	onlyExpanded := c.Query("collapsed") == "true"
	var rows []tree.Row
	if err := s.ws.View(c.Request.Context(), func(m *tree.Model) { rows = m.Rows(onlyExpanded) }); err != nil {
		s.handleError(c, err)
		return
	}
	if rows == nil {
		rows = []tree.Row{}
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.ws.Clear(c.Request.Context()); err != nil {
		s.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleSearch starts a search from a file position, or from a node key.
// Cancelling the request stops the search; the partial tree is kept.
func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	var (
		res *search.Result
		err error
	)
	switch {
	case req.Key != "" && req.Exhaustive:
		res, err = s.ws.Exhaustive(ctx, req.Key, nil)
	case req.Key != "":
		res, err = s.ws.SearchFromReference(ctx, req.Key, req.Force, nil)
	case req.File != "":
		res, err = s.ws.Search(ctx, req.File, req.Line, req.Force, nil)
	default:
		err = badRequest("file or key required", nil)
	}
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, searchResponse{
		Root:       res.Tree.Key(),
		Label:      res.Tree.Label(),
		Strategy:   res.Strategy,
		Methods:    res.Summary.Methods,
		References: res.Summary.References,
		DurationMS: res.Summary.Duration.Milliseconds(),
		Cancelled:  res.Summary.Cancelled,
	})
}

func (s *Server) handlePrune(c *gin.Context) {
	var removed int
	err := s.ws.Update(c.Request.Context(), func(m *tree.Model) error {
		removed = m.PruneUncheckedItems()
		return nil
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleExpandAll(c *gin.Context) {
	var expanded int
	err := s.ws.Update(c.Request.Context(), func(m *tree.Model) error {
		expanded = m.ExpandAll()
		return nil
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expanded": expanded})
}

// handleCheck handles POST /api/nodes/check {"keys": [...], "checked": bool}
func (s *Server) handleCheck(c *gin.Context) {
	var req struct {
		keysRequest
		Checked bool `json:"checked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		if err := workspace.RequireKeys(m, req.Keys); err != nil {
			return nil, err
		}
		for _, k := range req.Keys {
			if err := m.SetChecked(k, req.Checked); err != nil {
				return nil, err
			}
		}
		return gin.H{"updated": len(req.Keys)}, nil
	})
}

// handleExpand handles POST /api/nodes/expand {"keys": [...], "expanded": bool}
func (s *Server) handleExpand(c *gin.Context) {
	var req struct {
		keysRequest
		Expanded bool `json:"expanded"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		if err := workspace.RequireKeys(m, req.Keys); err != nil {
			return nil, err
		}
		for _, k := range req.Keys {
			if err := m.SetExpanded(k, req.Expanded); err != nil {
				return nil, err
			}
		}
		return gin.H{"updated": len(req.Keys)}, nil
	})
}

func (s *Server) handleSelect(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		if err := m.Select(req.Keys); err != nil {
			return nil, err
		}
		return gin.H{"selected": m.Selected()}, nil
	})
}

func (s *Server) handleIndent(c *gin.Context) {
	s.editKeys(c, (*tree.Model).Indent)
}

func (s *Server) handleOutdent(c *gin.Context) {
	s.editKeys(c, (*tree.Model).Outdent)
}

func (s *Server) handleRemove(c *gin.Context) {
	s.editKeys(c, (*tree.Model).RemoveSelectedNodes)
}

// handleMove handles POST /api/nodes/move {"keys": [...], "direction": "up"|"down"}
func (s *Server) handleMove(c *gin.Context) {
	var req struct {
		keysRequest
		Direction string `json:"direction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}
	dir, err := tree.ParseDirection(req.Direction)
	if err != nil {
		s.handleError(c, badRequest("invalid direction", err))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		if err := workspace.RequireKeys(m, req.Keys); err != nil {
			return nil, err
		}
		n, err := m.Move(req.Keys, dir)
		if err != nil {
			return nil, err
		}
		return gin.H{"changed": n}, nil
	})
}

func (s *Server) editKeys(c *gin.Context, op func(*tree.Model, []string) (int, error)) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		if err := workspace.RequireKeys(m, req.Keys); err != nil {
			return nil, err
		}
		n, err := op(m, req.Keys)
		if err != nil {
			return nil, err
		}
		return gin.H{"changed": n}, nil
	})
}

// handleAddComment inserts a comment above the node with the given key.
func (s *Server) handleAddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}
	s.updateWith(c, http.StatusCreated, func(m *tree.Model) (gin.H, error) {
		key, err := m.InsertCommentAbove(req.Key, req.Text)
		if err != nil {
			return nil, err
		}
		return gin.H{"key": key}, nil
	})
}

func (s *Server) handleEditComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.handleError(c, badRequest("invalid request body", err))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		key, err := m.EditComment(req.Key, req.Text)
		if err != nil {
			return nil, err
		}
		return gin.H{"key": key}, nil
	})
}

// handleDeleteComment handles DELETE /api/comments?key=...
func (s *Server) handleDeleteComment(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		s.handleError(c, badRequest("key parameter required", nil))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		if err := m.DeleteComment(key); err != nil {
			return nil, err
		}
		return gin.H{"deleted": key}, nil
	})
}

func (s *Server) handleExportJSON(c *gin.Context) {
	s.export(c, "application/json", tree.FileExtension, (*tree.Model).ExportJSON)
}

func (s *Server) handleExportMarkdown(c *gin.Context) {
	s.export(c, "text/markdown; charset=utf-8", ".md", (*tree.Model).ExportMarkdown)
}

func (s *Server) export(c *gin.Context, contentType, ext string, write func(*tree.Model, io.Writer, time.Time) error) {
	var buf bytes.Buffer
	var err error
	now := time.Now()
	if viewErr := s.ws.View(c.Request.Context(), func(m *tree.Model) { err = write(m, &buf, now) }); viewErr != nil {
		err = viewErr
	}
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="upstream%s"`, ext))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// handleImport appends the trees of an exported JSON document. Roots that
// already exist are skipped and counted as duplicates.
func (s *Server) handleImport(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.handleError(c, badRequest("reading request body", err))
		return
	}
	s.update(c, func(m *tree.Model) (gin.H, error) {
		res, err := m.ImportJSON(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		return gin.H{"added": res.Added, "duplicates": res.Duplicates}, nil
	})
}

// update runs fn through the session, persists the result and replies 200.
func (s *Server) update(c *gin.Context, fn func(*tree.Model) (gin.H, error)) {
	s.updateWith(c, http.StatusOK, fn)
}

func (s *Server) updateWith(c *gin.Context, status int, fn func(*tree.Model) (gin.H, error)) {
	var resp gin.H
	err := s.ws.Update(c.Request.Context(), func(m *tree.Model) error {
		var err error
		resp, err = fn(m)
		return err
	})
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(status, resp)
}
