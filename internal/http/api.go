package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"videograb/internal/domain"
	"videograb/internal/downloader"
	"videograb/internal/repository"
	"videograb/internal/service"
	"videograb/internal/storage"
)

// EngineStatus exposes the live limits of the download engine.
type EngineStatus interface {
	ProxyStatus() downloader.ProxyStatus
	ActiveDownloads() int
	MaxConcurrent() int
	RequestInterval() int64
}

type VideoInfoFetcher interface {
	Fetch(ctx context.Context, rawURL string) (downloader.VideoInfo, error)
}

type Diagnoser interface {
	Run(ctx context.Context) downloader.DiagnosticReport
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	jobs        service.JobService
	manager     downloader.Manager
	engine      EngineStatus
	info        VideoInfoFetcher
	diagnostics Diagnoser
	storage     storage.Service
	links       *LinkSigner
	logger      *logrus.Logger
}

// Options carries the collaborators a Handler needs. Storage and Links may be nil.
type Options struct {
	Jobs        service.JobService
	Manager     downloader.Manager
	Engine      EngineStatus
	Info        VideoInfoFetcher
	Diagnostics Diagnoser
	Storage     storage.Service
	Links       *LinkSigner
	Logger      *logrus.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Links == nil {
		opts.Links = NewLinkSigner("", 0)
	}
	return &Handler{
		jobs:        opts.Jobs,
		manager:     opts.Manager,
		engine:      opts.Engine,
		info:        opts.Info,
		diagnostics: opts.Diagnostics,
		storage:     opts.Storage,
		links:       opts.Links,
		logger:      opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger), corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/download", h.createDownload)
		api.GET("/download", h.getDownload)
		api.GET("/download/file", h.serveFile)
		api.DELETE("/download/:id", h.deleteDownload)
		api.POST("/video-info", h.videoInfo)
		api.GET("/status", h.status)
		api.GET("/diagnostic", h.diagnostic)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

type createDownloadRequest struct {
	URL     string `json:"url" binding:"required"`
	Quality string `json:"quality"`
	Format  string `json:"format"`
	Title   string `json:"title"`
}

type videoInfoRequest struct {
	URL string `json:"url" binding:"required"`
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(start).Round(time.Millisecond),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

func (h *Handler) createDownload(c *gin.Context) {
	var req createDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	dlReq, err := domain.NewDownloadRequest(req.URL, req.Quality, req.Format, req.Title)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.manager.Submit(c.Request.Context(), dlReq)
	if err != nil {
		if errors.Is(err, downloader.ErrAdmissionRejected) {
			resp := gin.H{"error": err.Error()}
			var extErr *downloader.ExtractionError
			if errors.As(err, &extErr) && extErr.Hint != "" {
				resp["hint"] = extErr.Hint
			}
			c.JSON(http.StatusTooManyRequests, resp)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":    true,
		"downloadId": job.ID,
		"statusUrl":  "/api/download?id=" + url.QueryEscape(job.ID),
	})
}

func (h *Handler) getDownload(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "download id required"})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), id)
	if err != nil {
		h.jobError(c, err)
		return
	}

	resp := jobToResponse(*job)
	if job.Status == domain.JobStatusCompleted && job.FileName != "" {
		link, err := h.fileURL(job.ID, job.FileName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.DownloadURL = link
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) fileURL(jobID, fileName string) (string, error) {
	q := url.Values{}
	q.Set("id", jobID)
	q.Set("file", fileName)
	token, err := h.links.Sign(jobID, fileName)
	if err != nil {
		return "", err
	}
	if token != "" {
		q.Set("token", token)
	}
	return "/api/download/file?" + q.Encode(), nil
}

func (h *Handler) serveFile(c *gin.Context) {
	id := c.Query("id")
	fileName := c.Query("file")
	if fileName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file name required"})
		return
	}

	if err := h.links.Verify(c.Query("token"), id, fileName); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": errInvalidLink.Error()})
		return
	}

	path, ok := downloader.ResolveOutputPath(h.manager.OutputDir(), fileName)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid file path"})
		return
	}

	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		c.FileAttachment(path, fileName)
		return
	}

	if location, ok := h.remoteCopy(c.Request.Context(), id, fileName); ok {
		c.Redirect(http.StatusFound, location)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
}

// remoteCopy presigns the mirrored object of a completed job whose local
// file has already been cleaned up.
func (h *Handler) remoteCopy(ctx context.Context, id, fileName string) (string, bool) {
	if id == "" || h.storage == nil {
		return "", false
	}
	job, err := h.jobs.GetJob(ctx, id)
	if err != nil || job.FileName != fileName || job.RemoteLocation == "" {
		return "", false
	}
	bucket, key, ok := storage.ParseLocation(job.RemoteLocation)
	if !ok {
		return "", false
	}
	presigned, err := h.storage.PresignURL(ctx, bucket, key, h.links.ttl, fileName)
	if err != nil {
		h.logger.WithField("job_id", id).Warnf("presign remote copy: %v", err)
		return "", false
	}
	return presigned, true
}

func (h *Handler) deleteDownload(c *gin.Context) {
	id := c.Param("id")

	job, err := h.jobs.GetJob(c.Request.Context(), id)
	if err != nil {
		h.jobError(c, err)
		return
	}

	if !job.Status.IsTerminal() {
		cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		err := h.manager.Cancel(cancelCtx, job.ID)
		if err == nil {
			c.JSON(http.StatusOK, h.cancelOutcome(c.Request.Context(), job.ID))
			return
		}
		if !errors.Is(err, downloader.ErrNotActive) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// finished between the lookup and the cancel
	}

	if err := h.manager.Remove(c.Request.Context(), job.ID); err != nil {
		h.jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": job.ID})
}

// cancelOutcome reports the status a job actually recorded after Cancel. A job
// that was already mirroring its file still completes.
func (h *Handler) cancelOutcome(ctx context.Context, id string) gin.H {
	job, err := h.jobs.GetJob(ctx, id)
	if err != nil {
		return gin.H{"id": id, "status": string(domain.JobStatusCanceled), "canceled": id}
	}
	resp := gin.H{"id": id, "status": string(job.Status)}
	if job.Status == domain.JobStatusCanceled {
		resp["canceled"] = id
	}
	return resp
}

func (h *Handler) videoInfo(c *gin.Context) {
	var req videoInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	info, err := h.info.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, videoInfoToResponse(info))
}

func (h *Handler) status(c *gin.Context) {
	proxy := h.engine.ProxyStatus()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"proxy": gin.H{
				"total":      proxy.Total,
				"current":    proxy.Current,
				"configured": proxy.Configured,
			},
			"downloads": gin.H{
				"active":        h.engine.ActiveDownloads(),
				"maxConcurrent": h.engine.MaxConcurrent(),
			},
			"rateLimit": gin.H{
				"interval": h.engine.RequestInterval(),
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *Handler) diagnostic(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	report := h.diagnostics.Run(ctx)
	c.JSON(http.StatusOK, gin.H{
		"success": report.Healthy,
		"data":    diagnosticToResponse(report),
	})
}

func (h *Handler) jobError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

type JobResponse struct {
	ID                 string   `json:"id"`
	URL                string   `json:"url"`
	Title              string   `json:"title,omitempty"`
	Format             string   `json:"format"`
	RequestedQuality   string   `json:"requestedQuality"`
	Status             string   `json:"status"`
	Progress           int      `json:"progress"`
	CurrentQuality     string   `json:"currentQuality,omitempty"`
	FileName           string   `json:"fileName,omitempty"`
	FileSize           int64    `json:"fileSize,omitempty"`
	ActualQuality      string   `json:"actualQuality,omitempty"`
	FallbackOccurred   bool     `json:"fallbackOccurred"`
	AttemptedQualities []string `json:"attemptedQualities"`
	VideoOnly          bool     `json:"videoOnly,omitempty"`
	ErrorKind          string   `json:"errorKind,omitempty"`
	Error              string   `json:"error,omitempty"`
	Hint               string   `json:"hint,omitempty"`
	Mirrored           bool     `json:"mirrored,omitempty"`
	DownloadURL        string   `json:"downloadUrl,omitempty"`
	CreatedAt          string   `json:"createdAt"`
	UpdatedAt          string   `json:"updatedAt"`
	FinishedAt         *string  `json:"finishedAt,omitempty"`
}

func jobToResponse(job domain.Job) JobResponse {
	resp := JobResponse{
		ID:                 job.ID,
		URL:                job.URL,
		Title:              job.Title,
		Format:             string(job.Format),
		RequestedQuality:   string(job.RequestedQuality),
		Status:             string(job.Status),
		Progress:           job.Progress,
		CurrentQuality:     string(job.CurrentQuality),
		FileName:           job.FileName,
		FileSize:           job.FileSize,
		ActualQuality:      string(job.ActualQuality),
		FallbackOccurred:   job.FallbackOccurred,
		AttemptedQualities: make([]string, len(job.AttemptedQualities)),
		VideoOnly:          job.VideoOnly,
		ErrorKind:          job.ErrorKind,
		Error:              job.ErrorMessage,
		Hint:               job.Hint,
		Mirrored:           job.RemoteLocation != "",
		CreatedAt:          job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          job.UpdatedAt.Format(time.RFC3339),
	}
	for i, q := range job.AttemptedQualities {
		resp.AttemptedQualities[i] = string(q)
	}
	if job.Status != domain.JobStatusCompleted {
		resp.ActualQuality = ""
	}
	if job.FinishedAt != nil {
		v := job.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	return resp
}

type VideoInfoResponse struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Thumbnail          string   `json:"thumbnail"`
	Duration           int      `json:"duration"`
	HighestQuality     string   `json:"highestQuality"`
	AvailableQualities []string `json:"availableQualities"`
	Placeholder        bool     `json:"placeholder,omitempty"`
}

func videoInfoToResponse(info downloader.VideoInfo) VideoInfoResponse {
	resp := VideoInfoResponse{
		ID:                 info.ID,
		Title:              info.Title,
		Thumbnail:          info.Thumbnail,
		Duration:           info.Duration,
		HighestQuality:     string(info.HighestQuality),
		AvailableQualities: make([]string, len(info.AvailableQualities)),
		Placeholder:        info.Placeholder,
	}
	for i, q := range info.AvailableQualities {
		resp.AvailableQualities[i] = string(q)
	}
	return resp
}

type DiagnosticResponse struct {
	YtDlp struct {
		Binary    string `json:"binary"`
		Available bool   `json:"available"`
		Version   string `json:"version,omitempty"`
		Error     string `json:"error,omitempty"`
	} `json:"ytdlp"`
	Cookies struct {
		Configured   bool   `json:"configured"`
		Exists       bool   `json:"exists"`
		Entries      int    `json:"entries"`
		HasLoginInfo bool   `json:"hasLoginInfo"`
		Error        string `json:"error,omitempty"`
	} `json:"cookies"`
	Proxy struct {
		Total      int  `json:"total"`
		Current    int  `json:"current"`
		Configured bool `json:"configured"`
	} `json:"proxy"`
	RateLimit struct {
		Interval int64 `json:"interval"`
	} `json:"rateLimit"`
	Downloads struct {
		Active        int `json:"active"`
		MaxConcurrent int `json:"maxConcurrent"`
	} `json:"downloads"`
	Recommendations []string `json:"recommendations"`
	Timestamp       string   `json:"timestamp"`
}

func diagnosticToResponse(r downloader.DiagnosticReport) DiagnosticResponse {
	var resp DiagnosticResponse
	resp.YtDlp.Binary = r.Tool.Binary
	resp.YtDlp.Available = r.Tool.Available
	resp.YtDlp.Version = r.Tool.Version
	resp.YtDlp.Error = r.Tool.Error
	resp.Cookies.Configured = r.Cookies.Configured
	resp.Cookies.Exists = r.Cookies.Exists
	resp.Cookies.Entries = r.Cookies.Entries
	resp.Cookies.HasLoginInfo = r.Cookies.HasLoginInfo
	resp.Cookies.Error = r.Cookies.Error
	resp.Proxy.Total = r.Proxy.Total
	resp.Proxy.Current = r.Proxy.Current
	resp.Proxy.Configured = r.Proxy.Configured
	resp.RateLimit.Interval = r.RequestIntervalMs
	resp.Downloads.Active = r.ActiveDownloads
	resp.Downloads.MaxConcurrent = r.MaxConcurrent
	resp.Recommendations = r.Recommendations
	if resp.Recommendations == nil {
		resp.Recommendations = []string{}
	}
	resp.Timestamp = r.CheckedAt.Format(time.RFC3339)
	return resp
}
