package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".zip":  "application/zip",
}

// serveArtifact streams a file from a record's working directory as an
// attachment. The name is confined to the directory so a crafted record
// can never read outside it.
func serveArtifact(c *gin.Context, dir, name string) {
	path := filepath.Join(dir, filepath.Base(name))
	absDir, err := filepath.Abs(dir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve artifact path"})
		return
	}
	absPath, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve artifact path"})
		return
	}

	ext := strings.ToLower(filepath.Ext(name))
	contentType := contentTypes[ext]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(name)))
	c.File(absPath)
}
