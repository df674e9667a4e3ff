package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
	Rule  string `json:"rule,omitempty"`
	Stage string `json:"stage,omitempty"`
	ID    string `json:"id,omitempty"`
}

// respondError maps pipeline errors onto status codes. Invalid input is 400,
// any other precondition 409, unknown records 404, everything else 500.
// id is the record the request addressed, when known.
func respondError(c *gin.Context, logger *slog.Logger, err error, id string) {
	var pre *pipeline.PreconditionError
	var nf *pipeline.NotFoundError

	switch {
	case errors.As(err, &pre):
		status := http.StatusConflict
		if pre.Rule == pipeline.RuleInvalid {
			status = http.StatusBadRequest
		}
		if pre.ID != "" {
			id = pre.ID
		}
		c.JSON(status, errorBody{Error: pre.Message, Rule: string(pre.Rule), Stage: pre.Stage, ID: id})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, errorBody{Error: nf.Error(), ID: nf.ID})
	default:
		logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error(), ID: id})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}

// pathID parses the named UUID path parameter, answering 400 when it is
// malformed
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid " + name, ID: c.Param(name)})
		return uuid.Nil, false
	}
	return id, true
}
