package portal

import (
	"net/http"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func decimalFrom(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func (s *Server) clientConnection(c *gin.Context) (*db.Connection, bool) {
	conn, err := s.d.Connections.ByClient(c.Request.Context(), client(c).ID)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return conn, true
}

func (s *Server) mappings(c *gin.Context) {
	conn, ok := s.clientConnection(c)
	if !ok {
		return
	}
	store, err := s.d.Mappings.Load(c.Request.Context(), conn)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"fields":           store.FieldMappings(),
		"categories":       store.CategoryMappings(),
		"attributes":       store.AttributeMappings(),
		"attribute_values": store.AttributeValueMappings(),
		"reference":        store.Reference,
		"source_fields":    mapping.SourceFields(),
		"target_fields":    mapping.TargetFields(),
	})
}

func (s *Server) createDefaultMappings(c *gin.Context) {
	conn, ok := s.clientConnection(c)
	if !ok {
		return
	}
	n, err := s.d.Mappings.CreateDefaults(c.Request.Context(), conn.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "created": n})
}

func (s *Server) saveFieldMapping(c *gin.Context) {
	conn, ok := s.clientConnection(c)
	if !ok {
		return
	}
	var m mapping.FieldMapping
	if err := bind(c, &m); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.d.Mappings.SaveField(c.Request.Context(), conn.ID, m); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) deleteFieldMapping(c *gin.Context) {
	conn, ok := s.clientConnection(c)
	if !ok {
		return
	}
	var req struct {
		Target mapping.TargetField `json:"target_field"`
	}
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.d.Mappings.DeleteField(c.Request.Context(), conn.ID, req.Target); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) saveCategoryMapping(c *gin.Context) {
	conn, ok := s.clientConnection(c)
	if !ok {
		return
	}
	var m mapping.CategoryMapping
	if err := bind(c, &m); err != nil {
		s.fail(c, err)
		return
	}
	if m.SupplierCategoryID <= 0 {
		s.fail(c, &mapping.ValidationError{Field: "supplier_category_id", Reason: "required"})
		return
	}
	if err := s.d.Mappings.SaveCategory(c.Request.Context(), conn.ID, m); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) deleteCategoryMapping(c *gin.Context) {
	conn, ok := s.clientConnection(c)
	if !ok {
		return
	}
	var req struct {
		SupplierCategoryID int64 `json:"supplier_category_id"`
	}
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.d.Mappings.DeleteCategory(c.Request.Context(), conn.ID, req.SupplierCategoryID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// session otwiera sesję do instancji klienta na czas jednego żądania.
func (s *Server) session(c *gin.Context) (remote.Session, bool) {
	conn, ok := s.clientConnection(c)
	if !ok {
		return nil, false
	}
	sess, err := s.d.Dialer.Connect(c.Request.Context(), repository.TargetFor(conn, s.set.RemoteTimeout, s.set.RemoteRPS))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) fetchCategories(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	defer sess.Close()
	cats, err := sess.FetchCategories(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "categories": cats})
}

func (s *Server) fetchAttributes(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	defer sess.Close()
	attrs, err := sess.FetchAttributes(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "attributes": attrs})
}
