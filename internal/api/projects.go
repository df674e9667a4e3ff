package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

type createProjectRequest struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// CreateProjectHandler creates a draft project
func CreateProjectHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		project, err := d.Coordinator.CreateProject(c.Request.Context(), req.Title, req.Type)
		if err != nil {
			respondError(c, d.Logger, err, "")
			return
		}
		c.JSON(http.StatusCreated, project)
	}
}

// ListProjectsHandler lists the newest projects, ?limit= defaults to 50
func ListProjectsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		projects, err := d.Coordinator.ListProjects(c.Request.Context(), limit)
		if err != nil {
			respondError(c, d.Logger, err, "")
			return
		}
		c.JSON(http.StatusOK, projects)
	}
}

// GetProjectHandler returns one project
func GetProjectHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		project, err := d.Coordinator.GetProject(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

// DeleteProjectHandler removes a project and everything it owns
func DeleteProjectHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := d.Coordinator.DeleteProject(c.Request.Context(), id); err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// PublishProjectHandler moves a ready project to published
func PublishProjectHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		project, err := d.Coordinator.PublishProject(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

type searchRequest struct {
	Query    string `json:"query"`
	Language string `json:"language"`
	Count    int    `json:"count"`
}

type searchResponse struct {
	Request *models.SearchRequest `json:"request"`
	Results []models.SearchResult `json:"results"`
}

// SearchHandler runs a synchronous search for the project. A provider
// failure still returns the failed request record.
func SearchHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		sr, results, err := d.Coordinator.Search(c.Request.Context(), id, req.Query, req.Language, req.Count)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, searchResponse{Request: sr, Results: results})
	}
}

// ListResultsHandler lists the project's search results, ?selected=true
// for the selected ones only
func ListResultsHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		selectedOnly := c.Query("selected") == "true"
		results, err := d.Coordinator.ListResults(c.Request.Context(), id, selectedOnly)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

type selectRequest struct {
	Selected *bool `json:"selected"`
}

// SelectResultHandler marks a search result selected or not; an empty body
// selects it
func SelectResultHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		resultID, ok := pathID(c, "resultID")
		if !ok {
			return
		}
		var req selectRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "invalid request body")
				return
			}
		}
		selected := req.Selected == nil || *req.Selected
		result, err := d.Coordinator.SelectResult(c.Request.Context(), id, resultID, selected)
		if err != nil {
			respondError(c, d.Logger, err, resultID.String())
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type createContentRequest struct {
	SearchResultID *uuid.UUID `json:"search_result_id"`
	SourceURL      string     `json:"source_url"`
}

type contentResponse struct {
	Content *models.Content    `json:"content"`
	Task    *pipeline.TaskView `json:"download_task,omitempty"`
}

// CreateContentHandler attaches the project's content; video content
// answers with the download task it started
func CreateContentHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req createContentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		content, task, err := d.Coordinator.CreateContent(c.Request.Context(), id, pipeline.CreateContentRequest{
			SearchResultID: req.SearchResultID,
			SourceURL:      req.SourceURL,
		})
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		resp := contentResponse{Content: content}
		if task != nil {
			view := pipeline.NewTaskView(task)
			resp.Task = &view
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// GetProjectContentHandler returns the project's content
func GetProjectContentHandler(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		content, err := d.Coordinator.GetProjectContent(c.Request.Context(), id)
		if err != nil {
			respondError(c, d.Logger, err, id.String())
			return
		}
		c.JSON(http.StatusOK, content)
	}
}
