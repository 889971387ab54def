package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/extractor"
	"github.com/jmehdipour/reader-gateway/internal/http/middleware"
	"github.com/jmehdipour/reader-gateway/internal/service/gatekeeper"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"
)

type extractOptions struct {
	IncludeImages   bool `json:"include_images"`
	IncludeMetadata bool `json:"include_metadata"`
	IsPDF           bool `json:"is_pdf"`
	TimeoutMs       int  `json:"timeout_ms"` // clamped by the fetcher
}

type extractReq struct {
	URL     string         `json:"url"`
	Options extractOptions `json:"options"`
}

type usageResp struct {
	BillableUnits int             `json:"billable_units"`
	CostUSD       decimal.Decimal `json:"cost_usd"`
	RecordID      string          `json:"record_id"`
	SizeBytes     int64           `json:"size_bytes"`
	SizeBucket    string          `json:"size_bucket"`
}

type extractResp struct {
	Success     bool                `json:"success"`
	RequestID   string              `json:"request_id"`
	URL         string              `json:"url"`
	ExtractedAt time.Time           `json:"extracted_at"`
	Title       string              `json:"title,omitempty"`
	Content     string              `json:"content"`
	Metadata    *extractor.Metadata `json:"metadata,omitempty"`
	Images      []extractor.Image   `json:"images,omitempty"`
	Usage       usageResp           `json:"usage"`
}

func extractHandler(gk Gatekeeper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req extractReq
		if err := c.Bind(&req); err != nil {
			return middleware.ErrorJSON(c, gatekeeper.CodeInvalidRequest, "request body must be JSON")
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			return middleware.ErrorJSON(c, gatekeeper.CodeInvalidRequest, "url is required")
		}

		out, err := gk.Handle(c.Request().Context(), middleware.APIKeyFromRequest(c.Request()), gatekeeper.Request{
			ID:  middleware.RequestIDFromCtx(c),
			URL: req.URL,
			Options: extractor.Options{
				IncludeImages:   req.Options.IncludeImages,
				IncludeMetadata: req.Options.IncludeMetadata,
				IsPDF:           req.Options.IsPDF,
				Timeout:         time.Duration(req.Options.TimeoutMs) * time.Millisecond,
			},
		})
		if out.Verdict != nil {
			middleware.SetQuotaHeaders(c, *out.Verdict)
		}
		if err != nil {
			var gerr *gatekeeper.Error
			if errors.As(err, &gerr) {
				return middleware.ErrorJSON(c, gerr.Code, gerr.Message)
			}
			log.Errorf("extract: unexpected error: %v", err)
			return middleware.ErrorJSON(c, gatekeeper.CodeUnavailable, "internal error")
		}

		res, rec := out.Result, out.Record
		return c.JSON(http.StatusOK, extractResp{
			Success:     true,
			RequestID:   out.RequestID,
			URL:         req.URL,
			ExtractedAt: res.FetchedAt,
			Title:       res.Title,
			Content:     res.Content,
			Metadata:    res.Metadata,
			Images:      res.Images,
			Usage: usageResp{
				BillableUnits: rec.BillableUnits,
				CostUSD:       rec.Cost,
				RecordID:      rec.ID,
				SizeBytes:     rec.SizeBytes,
				SizeBucket:    rec.SizeBucket,
			},
		})
	}
}
