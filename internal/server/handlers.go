package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/idanyas/speedcheck/internal/data"
)

// multipartSlack covers boundaries and part headers around the data field.
const multipartSlack = 1 << 20

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, data.Health{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Uptime:    time.Since(s.started).Seconds(),
	})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, data.Pong{
		Timestamp: time.Now().UnixMilli(),
		Message:   "pong",
	})
}

func (s *Server) download(c *gin.Context) {
	sizeMB := downloadSize(c.Query("size"), s.config.DefaultDownloadMB, s.config.MaxDownloadMB)

	s.logger.Debug("generating download data", zap.Int("size_mb", sizeMB))
	start := time.Now()

	buf := make([]byte, sizeMB*data.BytesPerMB)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		s.logger.Error("download generation failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to generate download data")
		return
	}
	generation := time.Since(start)

	h := c.Writer.Header()
	h.Set("Content-Length", strconv.Itoa(len(buf)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("X-Data-Size", fmt.Sprintf("%dMB", sizeMB))
	h.Set("X-Generation-Time", fmt.Sprintf("%dms", generation.Milliseconds()))

	c.Data(http.StatusOK, "application/octet-stream", buf)
	s.logger.Debug("sent download data",
		zap.Int("size_mb", sizeMB),
		zap.Duration("generation", generation))
}

// downloadSize reads the leading integer of raw ("7", "7.9" and "7MB" are all
// 7), falling back to def for missing or non-positive values and clamping to max.
func downloadSize(raw string, def, max int) int {
	n, ok := leadingInt(raw, max)
	if !ok || n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

// leadingInt parses an optional sign and digits, saturating just above limit.
func leadingInt(s string, limit int) (int, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, digits := 0, 0
	for ; digits < len(s) && s[digits] >= '0' && s[digits] <= '9'; digits++ {
		if n <= limit {
			n = n*10 + int(s[digits]-'0')
		}
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

func (s *Server) maxUploadBytes() int64 {
	return int64(s.config.MaxUploadMB) * data.BytesPerMB
}

func (s *Server) uploadRaw(c *gin.Context) {
	limit := s.maxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.uploadFailed(c, err)
		return
	}
	s.acknowledge(c, int64(len(body)))
}

func (s *Server) upload(c *gin.Context) {
	limit := s.maxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)

	file, err := c.FormFile("data")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		s.acknowledge(c, 0)
		return
	case err != nil:
		s.uploadFailed(c, err)
		return
	}
	if file.Size > limit {
		writeError(c, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}
	s.acknowledge(c, file.Size)
}

func (s *Server) uploadFailed(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.logger.Warn("upload rejected", zap.Int64("limit", tooLarge.Limit))
		writeError(c, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}
	s.logger.Error("upload failed", zap.Error(err))
	writeError(c, http.StatusInternalServerError, "Failed to process upload data")
}

func (s *Server) acknowledge(c *gin.Context, received int64) {
	ack := data.UploadAck{
		Success:    true,
		Received:   received,
		ReceivedMB: data.MB(received),
		Timestamp:  time.Now().UnixMilli(),
	}
	s.logger.Debug("received upload data",
		zap.String("path", c.FullPath()),
		zap.Float64("received_mb", ack.ReceivedMB))
	c.JSON(http.StatusOK, ack)
}
