package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/app/repository"
	"github.com/StyleLoft/StyleLoft/internal/pkg/access"
	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
	"github.com/StyleLoft/StyleLoft/internal/pkg/database"
	"github.com/StyleLoft/StyleLoft/internal/pkg/media"
	"github.com/StyleLoft/StyleLoft/internal/pkg/metrics/counter"
	"github.com/StyleLoft/StyleLoft/internal/pkg/usercontext"
)

// HandleListVideos returns the published catalog. Listing is open to every
// viewer; whether a lesson actually plays is decided per video by the
// access check.
func HandleListVideos(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	repo := repository.GetGlobalFactory().GetVideoRepository()
	videos, err := repo.ListPublished(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	total, err := repo.Count()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(fiber.Map{
		"videos": videos,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleVideoAccess evaluates whether the caller may watch one video and, on
// a grant, attaches a short-lived playback URL. Denials carry only a reason;
// the video payload and its playback URL never accompany a refusal.
func HandleVideoAccess(c *fiber.Ctx) error {
	videoUUID := c.Params("uuid")
	userCtx := usercontext.GetUserContext(c)
	now := time.Now()

	repo := repository.GetGlobalFactory().GetVideoRepository()
	video, err := repo.GetByUUID(videoUUID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	var ent *models.Entitlement
	if userCtx.IsLoggedIn {
		svc := billing.NewServiceFromDB(database.GetDB())
		if e, err := svc.GetEntitlement(c.Context(), userCtx.UserID); err == nil {
			ent = e
		}
	}

	decision := access.Check(ent, video, now)
	if !decision.Granted {
		return c.JSON(fiber.Map{
			"hasAccess": false,
			"reason":    decision.Reason,
		})
	}

	// view counting is best effort
	_ = counter.AddVideoView(decision.Video.ID)

	resp := fiber.Map{
		"hasAccess": true,
		"video":     decision.Video,
	}

	if client, err := media.GetClient(); err == nil {
		// A presigned URL for a missing object would just 404 in the player.
		exists, err := client.ObjectExists(c.Context(), decision.Video.S3ObjectKey)
		if err != nil {
			log.Errorf("[Media] Object check for video %s failed: %v", decision.Video.UUID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not prepare playback"})
		}
		if !exists {
			log.Errorf("[Media] Video %s points at missing object %s", decision.Video.UUID, decision.Video.S3ObjectKey)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not prepare playback"})
		}

		playback, err := client.PresignPlayback(c.Context(), decision.Video.S3ObjectKey)
		if err != nil {
			log.Errorf("[Media] Presigning playback for video %s failed: %v", decision.Video.UUID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not prepare playback"})
		}
		resp["playback"] = playback
	}

	return c.JSON(resp)
}
