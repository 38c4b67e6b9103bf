// Package api serves stored articles and images over HTTP.
package api

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/newsingest/article"
	"github.com/pevans/newsingest/logger"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Reader is the read side of a store.
type Reader interface {
	Find(ctx context.Context, hash string) (*article.Record, error)
	List(ctx context.Context) ([]article.Record, error)
	Image(ctx context.Context, ref string) (*article.ImageBlob, error)
}

// APIServer represents the HTTP API server.
type APIServer struct {
	store Reader
	log   logger.Logger
}

// NewAPIServer creates a new API server over the given store.
func NewAPIServer(store Reader, log logger.Logger) *APIServer {
	if log == nil {
		log = logger.NewNop()
	}
	return &APIServer{
		store: store,
		log:   log,
	}
}

// SetupRouter configures the Gin router with all article API routes
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.GET("/articles", s.HandleListArticles)
	api.GET("/articles/:hash", s.HandleGetArticle)
	api.GET("/images/:id", s.HandleGetImage)

	return router
}

// requestLogger logs one line per request.
func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Info("Handled request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
		)
	}
}

// ArticleResponse is a stored record plus a link to its image.
type ArticleResponse struct {
	article.Record
	ImageURL string `json:"image_url,omitempty"`
}

// ListArticlesResponse represents the response for GET /api/v1/articles.
type ListArticlesResponse struct {
	Articles []ArticleResponse `json:"articles"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleListArticles handles GET /api/v1/articles. Articles are returned
// newest first unless sort=scraped_asc.
func (s *APIServer) HandleListArticles(c *gin.Context) {
	records, err := s.store.List(c.Request.Context())
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, "internal_error", "Failed to list articles: "+err.Error())
		return
	}

	// Filter by since (optional)
	if since := c.Query("since"); since != "" {
		sinceTime, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid since parameter: must be ISO 8601 format")
			return
		}
		records = filterBySince(records, sinceTime)
	}

	switch c.DefaultQuery("sort", "scraped_desc") {
	case "scraped_desc":
		slices.Reverse(records)
	case "scraped_asc":
	default:
		s.writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid sort parameter")
		return
	}

	total := len(records)

	limit := defaultLimit
	if limitParam := c.Query("limit"); limitParam != "" {
		parsedLimit, err := strconv.Atoi(limitParam)
		if err != nil || parsedLimit < 1 {
			s.writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
			return
		}
		limit = min(parsedLimit, maxLimit)
	}

	offset := 0
	if offsetParam := c.Query("offset"); offsetParam != "" {
		parsedOffset, err := strconv.Atoi(offsetParam)
		if err != nil || parsedOffset < 0 {
			s.writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid offset parameter")
			return
		}
		offset = parsedOffset
	}

	page := paginate(records, offset, limit)
	articles := make([]ArticleResponse, 0, len(page))
	for _, rec := range page {
		articles = append(articles, toResponse(rec))
	}

	c.JSON(http.StatusOK, ListArticlesResponse{
		Articles: articles,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// HandleGetArticle handles GET /api/v1/articles/:hash.
func (s *APIServer) HandleGetArticle(c *gin.Context) {
	rec, err := s.store.Find(c.Request.Context(), c.Param("hash"))
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, "internal_error", "Failed to get article: "+err.Error())
		return
	}
	if rec == nil {
		s.writeError(c, http.StatusNotFound, "not_found", "Article not found")
		return
	}

	c.JSON(http.StatusOK, toResponse(*rec))
}

// HandleGetImage handles GET /api/v1/images/:id and returns the raw bytes.
func (s *APIServer) HandleGetImage(c *gin.Context) {
	blob, err := s.store.Image(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, "internal_error", "Failed to get image: "+err.Error())
		return
	}
	if blob == nil {
		s.writeError(c, http.StatusNotFound, "not_found", "Image not found")
		return
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(blob.Data)
	}

	c.Data(http.StatusOK, contentType, blob.Data)
}

func (s *APIServer) writeError(c *gin.Context, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", logger.String("path", c.Request.URL.Path), logger.String("message", message))
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// toResponse adds the image link. File-backed stores hand out paths as image
// refs; only the base name is exposed.
func toResponse(rec article.Record) ArticleResponse {
	resp := ArticleResponse{Record: rec}
	if rec.HasImage() {
		resp.ImageURL = "/api/v1/images/" + url.PathEscape(path.Base(*rec.ImageRef))
	}
	return resp
}

// filterBySince keeps records scraped at or after since.
func filterBySince(records []article.Record, since time.Time) []article.Record {
	var filtered []article.Record
	for _, rec := range records {
		if !rec.ScrapedAt.Before(since) {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// paginate applies offset and limit.
func paginate(records []article.Record, offset, limit int) []article.Record {
	if offset >= len(records) {
		return []article.Record{}
	}

	end := min(offset+limit, len(records))
	return records[offset:end]
}
