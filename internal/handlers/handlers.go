package handlers

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/facegate/internal/capture"
	"github.com/example/facegate/internal/gallery"
	"github.com/example/facegate/internal/usecase"
)

// MaxUploadSize caps the multipart image payload on /verify-face.
const MaxUploadSize = 10 << 20

// Middlewares carries the cross-cutting handlers wired per route. Nil
// entries are replaced with pass-throughs so tests can opt out.
type Middlewares struct {
	Auth          gin.HandlerFunc
	VerifyLimit   gin.HandlerFunc
	RegisterLimit gin.HandlerFunc
	UploadLimit   gin.HandlerFunc
}

type registerRequest struct {
	Name string `json:"name"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, source capture.Source, mw Middlewares) {
	auth := orPassthrough(mw.Auth)
	verifyLimit := orPassthrough(mw.VerifyLimit)
	registerLimit := orPassthrough(mw.RegisterLimit)
	uploadLimit := orPassthrough(mw.UploadLimit)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "face verification service is live"})
	})

	router.POST("/api/verify", verifyLimit, func(c *gin.Context) {
		frame, err := source.Capture(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "face capture failed"})
			return
		}
		defer frame.Discard()

		result, err := uc.Verify(c.Request.Context(), frame.Data)
		switch {
		case errors.Is(err, usecase.ErrGalleryUnavailable):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no registered faces found"})
			return
		case errors.Is(err, usecase.ErrSpoofRejected):
			c.JSON(http.StatusOK, verifyResponse(nil))
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}

		uc.RecordAttempt(c.Request.Context(), result)
		c.JSON(http.StatusOK, verifyResponse(result))
	})

	router.POST("/api/register", registerLimit, auth, func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}

		frame, err := source.Capture(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "face capture failed"})
			return
		}
		defer frame.Discard()

		identity, err := uc.Enroll(c.Request.Context(), req.Name, frame.Data)
		switch {
		case errors.Is(err, usecase.ErrSpoofRejected):
			c.JSON(http.StatusBadRequest, gin.H{"error": "capture failed spoof detection, please retry with better lighting"})
			return
		case errors.Is(err, gallery.ErrDuplicateIdentity):
			c.JSON(http.StatusBadRequest, gin.H{"error": "face already registered for " + req.Name})
			return
		case errors.Is(err, gallery.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "face registered successfully for " + req.Name,
			"name":    identity.Name,
		})
	})

	router.GET("/api/registered", func(c *gin.Context) {
		identities, err := uc.ListIdentities()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list registered faces"})
			return
		}

		faces := make([]gin.H, 0, len(identities))
		for _, id := range identities {
			faces = append(faces, gin.H{
				"name":     strings.ReplaceAll(id.Name, "_", " "),
				"filename": id.Filename,
			})
		}
		c.JSON(http.StatusOK, gin.H{"registered_faces": faces, "count": len(faces)})
	})

	router.POST("/verify-face", uploadLimit, func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file must be an image"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		frame, err := capture.FromBytes(data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage image"})
			return
		}
		defer frame.Discard()

		result, err := uc.Verify(c.Request.Context(), frame.Data)
		switch {
		case errors.Is(err, usecase.ErrGalleryUnavailable):
			c.JSON(http.StatusBadRequest, gin.H{"error": "no registered faces found"})
			return
		case errors.Is(err, usecase.ErrSpoofRejected):
			c.JSON(http.StatusOK, gin.H{"match": false, "confidence": 0.0})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "face verification failed"})
			return
		}

		uc.RecordAttempt(c.Request.Context(), result)

		if !result.Verified {
			c.JSON(http.StatusOK, gin.H{"match": false, "confidence": 0.0})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"match":      true,
			"confidence": Confidence(result.Distance),
		})
	})

	router.GET("/api/attempts/:id", func(c *gin.Context) {
		attemptID := c.Param("id")
		attempt, err := uc.GetAttempt(c.Request.Context(), attemptID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"attempt_id":   attempt.AttemptID,
			"verified":     attempt.Verified,
			"matched_with": attempt.MatchedWith,
			"distance":     attempt.Distance,
			"created_at":   attempt.CreatedAt,
		})
	})

	router.GET("/api/metrics", auth, func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// Confidence maps a match distance onto a 0..100 score: distance 0 is full
// confidence, distance 1 or beyond is none. Rounded to one decimal.
func Confidence(distance float64) float64 {
	confidence := (1 - distance) * 100
	confidence = math.Max(0, math.Min(100, confidence))
	return math.Round(confidence*10) / 10
}

// verifyResponse renders a verification outcome. MatchedWith and score carry
// a value iff a match was found; a nil result is a spoof rejection, reported
// with a zero score so clients can prompt for a retake.
func verifyResponse(result *usecase.Result) gin.H {
	if result == nil {
		return gin.H{"verified": false, "matched_with": nil, "score": 0.0}
	}
	if !result.Verified {
		return gin.H{
			"verified":     false,
			"matched_with": nil,
			"score":        nil,
			"attempt_id":   result.AttemptID,
		}
	}
	return gin.H{
		"verified":     true,
		"matched_with": result.MatchedWith,
		"score":        result.Distance,
		"attempt_id":   result.AttemptID,
	}
}

func orPassthrough(h gin.HandlerFunc) gin.HandlerFunc {
	if h != nil {
		return h
	}
	return func(c *gin.Context) { c.Next() }
}
