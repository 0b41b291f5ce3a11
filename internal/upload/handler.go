package upload

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the upload endpoint on the protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/upload-music", h.uploadMusic)
}

// RegisterFiles mounts the public download route.
func (h *Handler) RegisterFiles(r gin.IRouter) {
	r.GET("/uploads/:name", h.serveFile)
}

func (h *Handler) uploadMusic(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFileSize+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read upload"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read upload"})
		return
	}

	stored, err := h.service.Save(c.Request.Context(), header.Filename, data)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": verr.Detail})
			return
		}
		log.Printf("Upload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to store file"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "File uploaded successfully",
		"music_url": stored.MusicURL,
		"filename":  stored.Filename,
	})
}

func (h *Handler) serveFile(c *gin.Context) {
	data, contentType, err := h.service.Open(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}
