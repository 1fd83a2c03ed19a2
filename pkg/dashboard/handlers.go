package dashboard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/report"
	"github.com/charlie0129/battfleet/pkg/utils/osver"
	"github.com/charlie0129/battfleet/pkg/version"
)

const keepAliveInterval = 15 * time.Second

// VersionInfo is the response of /version.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

func badRequest(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusBadRequest, err.Error())
	_ = c.AbortWithError(http.StatusBadRequest, err)
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return i, nil
}

func boolParam(c *gin.Context, name string) (bool, error) {
	v := c.Query(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", name, v)
	}
	return b, nil
}

func parseQuery(c *gin.Context) (fleet.Query, error) {
	q := fleet.Query{
		Search:      c.Query("search"),
		Condition:   c.Query("condition"),
		SortBy:      c.Query("sort"),
		OlderThanOS: c.Query("olderThan"),
	}

	if q.OlderThanOS != "" {
		if _, err := osver.Parse(q.OlderThanOS); err != nil {
			return q, err
		}
	}

	var err error
	if q.MaxHealth, err = intParam(c, "maxHealth", 0); err != nil {
		return q, err
	}
	for name, dst := range map[string]*bool{
		"over":    &q.OverThreshold,
		"service": &q.NeedsService,
		"failed":  &q.FailedOnly,
		"desc":    &q.Descending,
	} {
		if *dst, err = boolParam(c, name); err != nil {
			return q, err
		}
	}
	return q, nil
}

func (s *Server) getRows(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, s.view.Rows(q))
}

func (s *Server) getSummary(c *gin.Context) {
	threshold, err := intParam(c, "threshold", s.opts.MinHealth)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, s.view.Summary(threshold))
}

func (s *Server) postRefresh(c *gin.Context) {
	err := s.view.Refresh(c.Request.Context())
	switch {
	case errors.Is(err, fleet.ErrStale):
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	case err != nil:
		c.IndentedJSON(http.StatusBadGateway, err.Error())
		_ = c.AbortWithError(http.StatusBadGateway, err)
		return
	}
	c.IndentedJSON(http.StatusOK, s.view.Summary(s.opts.MinHealth))
}

func attachmentName(ext string) string {
	return fmt.Sprintf("battery-health-%s.%s", time.Now().Format("2006-01-02"), ext)
}

func (s *Server) getCSV(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, s.view.Rows(q)); err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+attachmentName("csv")+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) getReport(c *gin.Context) {
	threshold, err := intParam(c, "threshold", s.opts.MinHealth)
	if err != nil {
		badRequest(c, err)
		return
	}

	data := report.NewData(s.opts.Title, s.view.Rows(fleet.Query{}), threshold)
	data.Summary.Generation = s.view.Generation()
	data.Summary.RefreshedAt = s.view.RefreshedAt()

	var buf bytes.Buffer
	if err := report.WriteHTML(&buf, data); err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// getEvents streams hub events as server-sent events until the client goes
// away.
func (s *Server) getEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Subscribers must see the headers before the first event.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) getSchedule(c *gin.Context) {
	if s.opts.Scheduler == nil {
		c.IndentedJSON(http.StatusNotFound, "no report schedule configured")
		return
	}
	c.IndentedJSON(http.StatusOK, s.opts.Scheduler.Status())
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, VersionInfo{
		Version:   version.Version,
		GitCommit: version.GitCommit,
	})
}
