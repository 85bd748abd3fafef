package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/query"
)

// handleHealth reports liveness and, when configured, storage reachability.
// GET /healthz
func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleGet returns one car park state.
// GET /carparks/:name
func (s *Server) handleGet(c *gin.Context) {
	name := carpark.NormalizeKey(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	st, err := s.query.Get(name)
	if carpark.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "carpark not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, st)
}

// handleSelect returns a snapshot of the states matching the filter.
// GET /carparks?name=&min_empty=&status=
func (s *Server) handleSelect(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	states := s.query.Select(f.States())
	c.JSON(http.StatusOK, gin.H{
		"carparks": states,
		"count":    len(states),
	})
}

// handleStream writes matching events as newline-delimited rows until the
// client disconnects.
// GET /stream?name=&min_empty=&status=&replay=earliest|latest
func (s *Server) handleStream(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, err := query.ParseReplayFrom(c.Query("replay"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sub := s.query.Subscribe(ctx, f.Events(), from)
	defer sub.Close()
	s.logger.Debug("stream opened", "subscription", sub.ID, "from", from.String())

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	enc := json.NewEncoder(c.Writer)
	c.Stream(func(w io.Writer) bool {
		d, err := sub.Next(ctx)
		if err != nil {
			return false
		}
		if err := enc.Encode(d.Row); err != nil {
			return false
		}
		return true
	})
}

// handleErrors lists recently skipped raw records.
// GET /errors
func (s *Server) handleErrors(c *gin.Context) {
	var errs []string
	if s.errors != nil {
		errs = s.errors()
	}
	if errs == nil {
		errs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"errors": errs})
}

// filterFromQuery reads the fixed filter parameters.
func filterFromQuery(c *gin.Context) (carpark.Filter, error) {
	f := carpark.Filter{
		Name:   carpark.NormalizeKey(c.Query("name")),
		Status: c.Query("status"),
	}
	if v := c.Query("min_empty"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("invalid min_empty %q", v)
		}
		f.MinEmpty = &n
	}
	return f, nil
}
