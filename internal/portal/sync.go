package portal

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/gin-gonic/gin"
)

type previewRequest struct {
	Products      []catalog.Ref `json:"products"`
	ProductIDs    []int64       `json:"product_ids"`
	IncludeImages *bool         `json:"include_images"`
	SyncVariants  *bool         `json:"sync_variants"`
}

type previewResponse struct {
	Success bool `json:"success"`
	*planner.Preview
	PollIntervalSec int `json:"poll_interval_sec"`
	PollTimeoutMin  int `json:"poll_timeout_min"`
}

// options składa opcje podglądu z ustawień połączenia i nadpisań z żądania.
func options(conn *db.Connection, req previewRequest) planner.Options {
	o := planner.Options{
		IncludeImages:        conn.IncludeImages,
		PreserveClientImages: conn.PreserveClientImages,
		AutoCreateCategories: conn.AutoCreateCategories,
		SyncVariants:         conn.SyncVariants,
	}
	if req.IncludeImages != nil {
		o.IncludeImages = *req.IncludeImages
	}
	if req.SyncVariants != nil {
		o.SyncVariants = *req.SyncVariants
	}
	if conn.CreateSupplierInfo && conn.SupplierPartnerID > 0 {
		field := catalog.PriceField(conn.SupplierInfoPriceField)
		if field == "" {
			field = catalog.PriceList
		}
		o.SupplierInfo = &planner.SupplierInfoOptions{
			PartnerID:   conn.SupplierPartnerID,
			PriceField:  field,
			Coefficient: repository.SupplierCoefficient(conn),
		}
	}
	return o
}

func (s *Server) preview(c *gin.Context) {
	ctx := c.Request.Context()
	cl := client(c)

	var req previewRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	refs := req.Products
	for _, id := range req.ProductIDs {
		refs = append(refs, catalog.Ref{ProductID: id})
	}
	if len(refs) == 0 {
		cur, err := s.d.Selections.Current(ctx, cl.ID)
		if err != nil {
			s.fail(c, err)
			return
		}
		refs = cur
	}

	conn, err := s.d.Connections.ByClient(ctx, cl.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	store, err := s.d.Mappings.Load(ctx, conn)
	if err != nil {
		s.fail(c, err)
		return
	}
	target := repository.TargetFor(conn, s.set.RemoteTimeout, s.set.RemoteRPS)
	sess, err := s.d.Dialer.Connect(ctx, target)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer sess.Close()

	p, err := s.d.Planner.BuildPreview(ctx, planner.Request{
		ClientID:     cl.ID,
		ConnectionID: conn.ID,
		Selection:    refs,
		Target:       target,
		Options:      options(conn, req),
	}, store, sess)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.d.Previews.Put(p)
	if s.d.Metrics != nil {
		s.d.Metrics.PreviewBuilt()
	}
	if err := s.d.Access.Record(ctx, cl.ID, "sync_preview", len(p.Rows), "", c.ClientIP()); err != nil {
		s.log.Warn().Err(err).Msg("access log write failed")
	}
	c.JSON(http.StatusOK, previewResponse{
		Success:         true,
		Preview:         p,
		PollIntervalSec: s.set.PollIntervalSec,
		PollTimeoutMin:  s.set.PollTimeoutMin,
	})
}

type previewRef struct {
	PreviewID string `json:"preview_id"`
	HistoryID uint   `json:"history_id"`
	Seqs      []int  `json:"seqs"`
}

// ownPreview sprawdza, że niewykonany podgląd należy do klienta.
func (s *Server) ownPreview(c *gin.Context, id string) (*planner.Preview, error) {
	p, err := s.d.Previews.Get(id)
	if err != nil {
		return nil, err
	}
	if p.ClientID != client(c).ID {
		return nil, planner.ErrPreviewNotFound
	}
	return p, nil
}

func (s *Server) exclude(c *gin.Context) {
	var req previewRef
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if _, err := s.ownPreview(c, req.PreviewID); err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.d.Previews.Exclude(req.PreviewID, req.Seqs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, previewResponse{Success: true, Preview: p, PollIntervalSec: s.set.PollIntervalSec, PollTimeoutMin: s.set.PollTimeoutMin})
}

func (s *Server) execute(c *gin.Context) {
	var req previewRef
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	cl := client(c)
	run, err := s.d.Executor.Start(c.Request.Context(), cl.ID, req.PreviewID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.d.Access.Record(c.Request.Context(), cl.ID, "sync_execute", run.Total, "", c.ClientIP()); err != nil {
		s.log.Warn().Err(err).Msg("access log write failed")
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":    true,
		"preview_id": run.PreviewID,
		"history_id": run.HistoryID,
		"total":      run.Total,
	})
}

// status odpowiada zawsze 200; nieznany przebieg to {"error": "not found"}.
func (s *Server) status(c *gin.Context) {
	id := c.Query("preview_id")
	if id == "" {
		id = c.Query("history_id")
	}
	if id == "" && c.Request.Method == http.MethodPost {
		var req previewRef
		if err := bind(c, &req); err == nil {
			id = req.PreviewID
			if id == "" && req.HistoryID > 0 {
				id = strconv.FormatUint(uint64(req.HistoryID), 10)
			}
		}
	}
	snap := s.d.Status.Status(c.Request.Context(), client(c).ID, id)
	snap.ClientID = 0
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancel(c *gin.Context) {
	var req previewRef
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	ok := s.d.Executor.Cancel(client(c).ID, strings.TrimSpace(req.PreviewID))
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func (s *Server) result(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("history_id"), 10, 64)
	if err != nil {
		s.fail(c, repository.ErrNotFound)
		return
	}
	h, items, err := s.d.History.Get(c.Request.Context(), uint(id), client(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": h, "items": items})
}

func (s *Server) historyList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	rows, err := s.d.History.List(c.Request.Context(), client(c).ID, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": rows})
}

func (s *Server) testConnection(c *gin.Context) {
	ctx := c.Request.Context()
	conn, err := s.d.Connections.ByClient(ctx, client(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	testErr := func() error {
		sess, err := s.d.Dialer.Connect(ctx, repository.TargetFor(conn, s.set.RemoteTimeout, s.set.RemoteRPS))
		if err != nil {
			return err
		}
		defer sess.Close()
		return sess.TestConnection(ctx)
	}()
	if err := s.d.Connections.MarkTested(ctx, conn.ID, testErr); err != nil {
		s.log.Warn().Err(err).Uint("connection_id", conn.ID).Msg("store connection test result failed")
	}
	if testErr != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": testErr.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "connection successful"})
}

type connectionView struct {
	URL                     string                `json:"url"`
	Database                string                `json:"database"`
	Username                string                `json:"username"`
	APIKey                  string                `json:"api_key,omitempty"`
	VerifySSL               *bool                 `json:"verify_ssl,omitempty"`
	TimeoutSec              int                   `json:"timeout_sec"`
	SyncVariants            bool                  `json:"sync_variants"`
	AutoCreateCategories    bool                  `json:"auto_create_categories"`
	IncludeImages           bool                  `json:"include_images"`
	PreserveClientImages    bool                  `json:"preserve_client_images"`
	Reference               mapping.ReferenceRule `json:"reference"`
	CreateSupplierInfo      bool                  `json:"create_supplier_info"`
	SupplierPartnerID       int64                 `json:"supplier_partner_id"`
	SupplierInfoPriceField  string                `json:"supplier_info_price_field"`
	SupplierInfoCoefficient string                `json:"supplier_info_coefficient"`
	Status                  string                `json:"status,omitempty"`
	LastError               string                `json:"last_error,omitempty"`
}

func (s *Server) connection(c *gin.Context) {
	conn, err := s.d.Connections.ByClient(c.Request.Context(), client(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	verify := conn.VerifySSL
	c.JSON(http.StatusOK, gin.H{"success": true, "connection": connectionView{
		URL:                     conn.URL,
		Database:                conn.Database,
		Username:                conn.Username,
		VerifySSL:               &verify,
		TimeoutSec:              conn.TimeoutSec,
		SyncVariants:            conn.SyncVariants,
		AutoCreateCategories:    conn.AutoCreateCategories,
		IncludeImages:           conn.IncludeImages,
		PreserveClientImages:    conn.PreserveClientImages,
		Reference:               repository.ReferenceRule(conn),
		CreateSupplierInfo:      conn.CreateSupplierInfo,
		SupplierPartnerID:       conn.SupplierPartnerID,
		SupplierInfoPriceField:  conn.SupplierInfoPriceField,
		SupplierInfoCoefficient: repository.SupplierCoefficient(conn).String(),
		Status:                  conn.Status,
		LastError:               conn.LastError,
	}})
}

// saveConnection tworzy albo zmienia połączenie klienta; pusty api_key zostawia poprzedni.
func (s *Server) saveConnection(c *gin.Context) {
	ctx := c.Request.Context()
	cl := client(c)
	var req connectionView
	if err := bind(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	if req.Reference.Mode != "" {
		mode, err := mapping.ParseReferenceMode(string(req.Reference.Mode))
		if err != nil {
			s.fail(c, err)
			return
		}
		req.Reference.Mode = mode
	}
	if err := req.Reference.Validate(); err != nil {
		s.fail(c, err)
		return
	}
	conn, err := s.d.Connections.ByClient(ctx, cl.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		conn = &db.Connection{ClientID: cl.ID, VerifySSL: true}
	case err != nil:
		s.fail(c, err)
		return
	}
	conn.URL = strings.TrimSpace(req.URL)
	conn.Database = req.Database
	conn.Username = req.Username
	if req.APIKey != "" {
		conn.APIKey = req.APIKey
	}
	if req.VerifySSL != nil {
		conn.VerifySSL = *req.VerifySSL
	}
	conn.TimeoutSec = req.TimeoutSec
	conn.SyncVariants = req.SyncVariants
	conn.AutoCreateCategories = req.AutoCreateCategories
	conn.IncludeImages = req.IncludeImages
	conn.PreserveClientImages = req.PreserveClientImages
	conn.ReferenceMode = string(req.Reference.Mode)
	if conn.ReferenceMode == "" {
		conn.ReferenceMode = string(mapping.RefKeepOriginal)
	}
	conn.ReferencePrefix = req.Reference.Prefix
	conn.ReferenceSuffix = req.Reference.Suffix
	conn.ReferenceSeparator = req.Reference.Separator
	conn.ReferenceFormat = req.Reference.Format
	conn.CreateSupplierInfo = req.CreateSupplierInfo
	conn.SupplierPartnerID = req.SupplierPartnerID
	conn.SupplierInfoPriceField = req.SupplierInfoPriceField
	if req.SupplierInfoCoefficient != "" {
		coef, err := decimalFrom(req.SupplierInfoCoefficient)
		if err != nil {
			s.fail(c, &mapping.ValidationError{Field: "supplier_info_coefficient", Reason: err.Error()})
			return
		}
		conn.SupplierInfoCoefficient = coef
	}
	// nowe dane logowania trzeba przetestować ponownie
	conn.Status = "not_tested"
	if conn.URL == "" {
		s.fail(c, &mapping.ValidationError{Field: "url", Reason: "required"})
		return
	}
	if err := s.d.Connections.Save(ctx, conn); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "connection_id": conn.ID})
}
