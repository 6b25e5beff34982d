package portal

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/export"
	"github.com/gin-gonic/gin"
)

type cartRequest struct {
	Name        string        `json:"name"`
	SelectionID uint          `json:"selection_id"`
	Products    []catalog.Ref `json:"products"`
}

func (s *Server) cart(c *gin.Context) {
	refs, err := s.d.Selections.Current(c.Request.Context(), client(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "products": refs})
}

func (s *Server) setCart(c *gin.Context) {
	var req cartRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.d.Selections.SetCurrent(c.Request.Context(), client(c).ID, req.Products); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(req.Products)})
}

// saveSelection zapisuje podane produkty albo, bez nich, bieżący koszyk.
func (s *Server) saveSelection(c *gin.Context) {
	ctx := c.Request.Context()
	cl := client(c)
	var req cartRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	refs := req.Products
	if len(refs) == 0 {
		cur, err := s.d.Selections.Current(ctx, cl.ID)
		if err != nil {
			s.fail(c, err)
			return
		}
		refs = cur
	}
	id, err := s.d.Selections.Save(ctx, cl.ID, req.Name, refs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "selection_id": id})
}

func (s *Server) listSelections(c *gin.Context) {
	rows, err := s.d.Selections.List(c.Request.Context(), client(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "selections": rows})
}

func (s *Server) loadSelection(c *gin.Context) {
	var req cartRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	refs, err := s.d.Selections.Load(c.Request.Context(), client(c).ID, req.SelectionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "products": refs})
}

func (s *Server) deleteSelection(c *gin.Context) {
	var req cartRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.d.Selections.Delete(c.Request.Context(), client(c).ID, req.SelectionID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type exportRequest struct {
	ProductIDs    []int64 `json:"product_ids" form:"-"`
	IDs           string  `json:"-" form:"product_ids"`
	IncludeImages bool    `json:"include_images" form:"include_images"`
}

// exportFile obsługuje JSON ({"product_ids": [..]}) i formularz (product_ids=1,2,3).
// Bez listy eksportowany jest bieżący koszyk.
func (s *Server) exportFile(f export.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cl := client(c)

		var req exportRequest
		if c.ContentType() == "application/json" {
			if err := bind(c, &req); err != nil {
				s.fail(c, err)
				return
			}
		} else if err := c.ShouldBind(&req); err != nil {
			s.fail(c, &bindError{err: err})
			return
		}
		ids := req.ProductIDs
		if req.IDs != "" {
			parsed, err := export.ParseIDs(req.IDs)
			if err != nil {
				s.fail(c, &bindError{err: err})
				return
			}
			ids = append(ids, parsed...)
		}
		if len(ids) == 0 {
			cur, err := s.d.Selections.Current(ctx, cl.ID)
			if err != nil {
				s.fail(c, err)
				return
			}
			seen := map[int64]bool{}
			for _, r := range cur {
				if !seen[r.ProductID] {
					seen[r.ProductID] = true
					ids = append(ids, r.ProductID)
				}
			}
		}

		var buf bytes.Buffer
		n, err := s.d.Exporter.Export(ctx, export.Request{
			ClientID:      cl.ID,
			ProductIDs:    ids,
			Format:        f,
			IncludeImages: req.IncludeImages,
			IP:            c.ClientIP(),
		}, &buf)
		if err != nil {
			s.fail(c, err)
			return
		}
		if s.d.Metrics != nil {
			s.d.Metrics.Export(string(f))
		}
		name := export.FileName(cl.Name, f, time.Now())
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Header("X-Exported-Products", strconv.Itoa(n))
		c.Data(http.StatusOK, f.ContentType(), buf.Bytes())
	}
}
