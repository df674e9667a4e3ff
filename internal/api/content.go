package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// GetContentHandler returns one content record
func GetContentHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		content, err := d.Coordinator.GetContent(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, content)
	}
}

// stageRequest is the body of POST /contents/:id/tasks. OverlayKey names an
// artifact already in the media store; multipart requests upload the
// overlay in the "overlay" field instead.
type stageRequest struct {
	Kind       models.TaskKind `json:"kind" form:"kind"`
	SubtitleID *uuid.UUID      `json:"subtitle_id" form:"-"`
	OverlayKey string          `json:"overlay_key" form:"-"`
	Position   string          `json:"position" form:"position"`
	FontSize   int             `json:"font_size" form:"font_size"`
}

// StartStageHandler starts a download, burn or watermark task and answers
// 202 with its polling view
func StartStageHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}

		var req stageRequest
		var params pipeline.StageParams
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, d.MaxUploadBytes)
			if err := c.ShouldBind(&req); err != nil {
				badRequest(c, "invalid form")
				return
			}
			if raw := c.PostForm("subtitle_id"); raw != "" {
				sid, err := uuid.Parse(raw)
				if err != nil {
					badRequest(c, "invalid subtitle_id")
					return
				}
				req.SubtitleID = &sid
			}
			overlay, err := saveOverlay(c, d)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			params.OverlayPath = overlay
		} else {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "invalid request body")
				return
			}
			if req.OverlayKey != "" {
				params.OverlayPath = d.Artifacts.LocalPath(req.OverlayKey)
			}
		}
		if !req.Kind.Valid() {
			badRequest(c, fmt.Sprintf("unknown task kind %q", req.Kind))
			return
		}
		params.SubtitleID = req.SubtitleID
		params.Position = req.Position
		params.FontSize = req.FontSize

		task, err := d.Coordinator.StartStage(c.Request.Context(), id, req.Kind, params)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusAccepted, pipeline.NewTaskView(task))
	}
}

// saveOverlay stores the uploaded "overlay" file under overlays/ and
// returns its local path. An absent file yields "" so the watermark
// precondition reports it.
func saveOverlay(c *gin.Context, d *Deps) (string, error) {
	fh, err := c.FormFile("overlay")
	if err == http.ErrMissingFile {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("overlay upload failed: %w", err)
	}
	if fh.Size > d.MaxUploadBytes {
		return "", fmt.Errorf("overlay exceeds %d bytes", d.MaxUploadBytes)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("overlay upload failed: %w", err)
	}
	defer src.Close()

	key := path.Join("overlays", uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	dst := d.Artifacts.LocalPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, io.LimitReader(src, d.MaxUploadBytes)); err != nil {
		out.Close()
		os.Remove(dst)
		return "", err
	}
	return dst, out.Close()
}

// ListTasksHandler lists a content's tasks
func ListTasksHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		views, err := d.Coordinator.ListTasks(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, views)
	}
}

// GetTaskHandler returns a task's polling view
func GetTaskHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		view, err := d.Coordinator.GetTask(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// RetryTaskHandler starts a new task from a failed one
func RetryTaskHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		task, err := d.Coordinator.RetryTask(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusAccepted, pipeline.NewTaskView(task))
	}
}

// StartSubtitleHandler starts original-language subtitle generation
func StartSubtitleHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		sub, err := d.Coordinator.StartSubtitle(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusAccepted, pipeline.NewSubtitleView(sub))
	}
}

type translateRequest struct {
	SourceSubtitleID *uuid.UUID `json:"source_subtitle_id"`
	TargetLanguage   string     `json:"target_language"`
}

// TranslateHandler translates synchronously. The new subtitle is returned
// with 201 even when translation failed; its status says which.
func TranslateHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req translateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		sub, err := d.Coordinator.Translate(c.Request.Context(), id, req.SourceSubtitleID, req.TargetLanguage)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusCreated, pipeline.NewSubtitleView(sub))
	}
}

// ListSubtitlesHandler lists a content's subtitles
func ListSubtitlesHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		views, err := d.Coordinator.ListSubtitles(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, views)
	}
}

// GetSubtitleHandler returns a subtitle's polling view
func GetSubtitleHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		view, err := d.Coordinator.GetSubtitle(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// DownloadSubtitleHandler serves a completed subtitle as an .srt file
func DownloadSubtitleHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		view, err := d.Coordinator.GetSubtitle(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		if view.Status != models.SubtitleStatusCompleted {
			c.JSON(http.StatusConflict, errorBody{
				Error: "subtitle is " + string(view.Status),
				Rule:  string(pipeline.RuleNotReady),
				Stage: pipeline.StageSubtitle,
				ID:    id.String(),
			})
			return
		}
		name := "subtitle_" + view.Language + ".srt"
		c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(name))
		c.Data(http.StatusOK, "application/x-subrip; charset=utf-8", []byte(view.SubtitleText))
	}
}

// DeleteSubtitleHandler removes a terminal subtitle
func DeleteSubtitleHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := d.Coordinator.DeleteSubtitle(c.Request.Context(), id); err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.Status(http.StatusNoContent)
	}
}
