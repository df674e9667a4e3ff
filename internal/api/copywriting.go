package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

type generateCopyRequest struct {
	UserNote   string     `json:"user_note"`
	SubtitleID *uuid.UUID `json:"subtitle_id"`
	Language   string     `json:"language"`
}

// GenerateCopyHandler runs the copywriter synchronously and answers with the
// new editable session
func GenerateCopyHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req generateCopyRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "invalid request body")
				return
			}
		}
		session, err := d.Coordinator.GenerateCopy(c.Request.Context(), id, pipeline.GenerateCopyRequest{
			UserNote:   req.UserNote,
			SubtitleID: req.SubtitleID,
			Language:   req.Language,
		})
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

// ListSessionsHandler lists a project's copywriting sessions
func ListSessionsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		sessions, err := d.Coordinator.ListSessions(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, sessions)
	}
}

func GetSessionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		session, err := d.Coordinator.GetSession(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type editSectionRequest struct {
	Value string `json:"value"`
}

// EditSectionHandler stores a user edit of one section
func EditSectionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req editSectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		session, err := d.Coordinator.EditSection(c.Request.Context(), id, c.Param("section"), req.Value)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type regenerateRequest struct {
	Instruction string `json:"instruction"`
}

// RegenerateSectionHandler asks the copywriter to rewrite one section
func RegenerateSectionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req regenerateRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "invalid request body")
				return
			}
		}
		session, err := d.Coordinator.RegenerateSection(c.Request.Context(), id, c.Param("section"), req.Instruction)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// SaveSessionHandler freezes a session
func SaveSessionHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		session, err := d.Coordinator.SaveSession(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, session)
	}
}
