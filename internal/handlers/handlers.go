package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/crop-disease-api/internal/metrics"
	"github.com/Brownie44l1/crop-disease-api/internal/model"
	"github.com/Brownie44l1/crop-disease-api/internal/preprocess"
	"github.com/Brownie44l1/crop-disease-api/internal/storage"
)

// Options carries the handler's collaborators. Metrics may be nil.
type Options struct {
	Normalizer     *preprocess.Normalizer
	Classifier     model.Classifier
	Metadata       model.Metadata
	Uploads        *storage.Uploads
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	MaxUploadBytes int64
	Version        string
}

type Handler struct {
	normalizer *preprocess.Normalizer
	classifier model.Classifier
	metadata   model.Metadata
	uploads    *storage.Uploads
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxUpload  int64
	version    string
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		normalizer: opts.Normalizer,
		classifier: opts.Classifier,
		metadata:   opts.Metadata,
		uploads:    opts.Uploads,
		metrics:    opts.Metrics,
		logger:     logger,
		maxUpload:  opts.MaxUploadBytes,
		version:    opts.Version,
	}
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/info", h.Info)
	r.POST("/predict", h.PredictFromImage)
	r.POST("/predict/tensor", h.Predict)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     h.version,
		"classes":     h.metadata.Classes,
		"input_shape": h.metadata.InputShape,
		"image_size":  h.metadata.ImageSize,
	})
}

// PredictFromImage classifies a multipart upload sent in the "file" field
// and answers with every label ordered by descending confidence.
func (h *Handler) PredictFromImage(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(c, http.StatusBadRequest, "No file part")
		return
	}
	if header.Filename == "" {
		respondError(c, http.StatusBadRequest, "No selected file")
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	path, err := h.uploads.Save(header.Filename, file)
	file.Close()
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Debug("received file", "filename", header.Filename, "size", header.Size, "staged", path)

	start := time.Now()
	tensor, err := h.normalizer.Normalize(c.Request.Context(), path)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := model.Rank(c.Request.Context(), tensor, h.classifier, h.metadata.Classes)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.observe(result, time.Since(start))

	c.JSON(http.StatusOK, result)
}

// Predict classifies a tensor that the client already normalized, sent as a
// flat JSON array.
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}

	expectedSize := h.metadata.InputSize()
	if len(req.Image) != expectedSize {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)))
		return
	}

	start := time.Now()
	tensor := model.Tensor{Shape: h.metadata.InputShape, Data: req.Image}
	result, err := model.Rank(c.Request.Context(), tensor, h.classifier, h.metadata.Classes)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.observe(result, time.Since(start))

	top, _ := result.Top()
	c.JSON(http.StatusOK, model.PredictionResponse{
		Class:       top.Label,
		Confidence:  top.Confidence,
		Predictions: result,
	})
}

func (h *Handler) observe(result model.RankedResult, d time.Duration) {
	top, ok := result.Top()
	if !ok {
		return
	}
	h.logger.Info("prediction", "class", top.Label, "confidence", top.Confidence, "duration", d)
	if h.metrics != nil {
		h.metrics.ObservePrediction(top.Label, d)
	}
}
