package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/LJTian/NewsRelay/internal/app"
	"github.com/LJTian/NewsRelay/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type Server struct {
	app *app.App
}

func NewServer(a *app.App) *Server {
	return &Server{app: a}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.status)
		v1.GET("/stats", s.stats)
		v1.POST("/scrape", s.scrapeAll)
		v1.POST("/scrape/:source", s.scrapeSource)
		v1.GET("/jobs", s.listJobs)
		v1.POST("/jobs/:name/start", s.startJob)
		v1.POST("/jobs/:name/stop", s.stopJob)
		v1.POST("/jobs/:name/trigger", s.triggerJob)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    s.app.Status(),
	})
}

func (s *Server) stats(c *gin.Context) {
	source := c.Query("source")
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	recs, err := s.app.Stats(c.Request.Context(), source, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    recs,
	})
}

// scrapeAll 默认同步等全部源跑完；wait=false 时后台执行立刻返回
func (s *Server) scrapeAll(c *gin.Context) {
	wait, err := strconv.ParseBool(c.DefaultQuery("wait", "true"))
	if err != nil {
		wait = true
	}
	if !wait {
		go s.app.TriggerAll(context.Background())
		c.JSON(http.StatusAccepted, gin.H{
			"code":    "accepted",
			"message": "scrape started",
		})
		return
	}

	reports := s.app.TriggerAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    reports,
	})
}

func (s *Server) scrapeSource(c *gin.Context) {
	rep, err := s.app.TriggerSource(c.Request.Context(), c.Param("source"))
	if err != nil {
		if errors.Is(err, app.ErrUnknownSource) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "not_found",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    rep,
	})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    s.app.Jobs(),
	})
}

func (s *Server) startJob(c *gin.Context) {
	name := c.Param("name")
	if err := s.app.StartJob(name); err != nil {
		jobError(c, err)
		return
	}
	st, _ := s.app.Scheduler.JobStatus(name)
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    st,
	})
}

func (s *Server) stopJob(c *gin.Context) {
	name := c.Param("name")
	if err := s.app.StopJob(name); err != nil {
		jobError(c, err)
		return
	}
	st, _ := s.app.Scheduler.JobStatus(name)
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    st,
	})
}

func (s *Server) triggerJob(c *gin.Context) {
	reports, err := s.app.TriggerJob(c.Param("name"))
	if err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    reports,
	})
}

// jobError 状态机冲突报 409，任务不存在报 404
func jobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, scheduler.ErrJobBusy),
		errors.Is(err, scheduler.ErrAlreadyScheduled),
		errors.Is(err, scheduler.ErrAlreadyStopped):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "conflict",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
	}
}
