package router

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册API路由。cfg.Server.APIKeys非空时对业务路由启用API Key鉴权。
func RegisterRoutes(
	h *server.Hertz,
	cfg *config.Config,
	resumeHandler *handler.ResumeHandler,
	jobHandler *handler.JobHandler,
	matchHandler *handler.MatchHandler,
) {
	// 健康检查不走鉴权
	h.GET("/api/v1/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if len(cfg.Server.APIKeys) > 0 {
		api.Use(apiKeyMiddleware(cfg.Server.APIKeys))
	}

	registerResumeRoutes(api, resumeHandler)
	registerJobRoutes(api, jobHandler, matchHandler)
}

func apiKeyMiddleware(apiKeys []string) app.HandlerFunc {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, key := range apiKeys {
		allowed[key] = struct{}{}
	}
	return keyauth.New(
		keyauth.WithKeyLookUp("header:X-API-Key", ""),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			_, ok := allowed[key]
			return ok, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.JSON(consts.StatusUnauthorized, utils.H{"error": "无效的API Key"})
			c.Abort()
		}),
	)
}

func registerResumeRoutes(api *route.RouterGroup, resumeHandler *handler.ResumeHandler) {
	api.POST("/resumes/upload", func(c context.Context, ctx *app.RequestContext) {
		fileHeader, err := ctx.FormFile("file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
			return
		}
		defer file.Close()

		resp, err := resumeHandler.HandleResumeUpload(c, file, fileHeader.Size, fileHeader.Filename)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.GET("/resumes/:resume_id", func(c context.Context, ctx *app.RequestContext) {
		resumeID := ctx.Param("resume_id")
		resp, err := resumeHandler.HandleGetResume(c, resumeID)
		if err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.POST("/resumes/:resume_id/reprocess", func(c context.Context, ctx *app.RequestContext) {
		resumeID := ctx.Param("resume_id")
		if err := resumeHandler.HandleReprocess(c, resumeID); err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusAccepted, utils.H{"resume_id": resumeID, "status": "REPROCESS_REQUESTED"})
	})

	api.DELETE("/resumes/:resume_id", func(c context.Context, ctx *app.RequestContext) {
		resumeID := ctx.Param("resume_id")
		if err := resumeHandler.HandleDeleteResume(c, resumeID); err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"resume_id": resumeID, "status": "DELETED"})
	})
}

func registerJobRoutes(api *route.RouterGroup, jobHandler *handler.JobHandler, matchHandler *handler.MatchHandler) {
	api.POST("/jobs", func(c context.Context, ctx *app.RequestContext) {
		var req handler.JobCreateRequest
		if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
			return
		}
		record, err := jobHandler.HandleCreateJob(c, &req)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, record)
	})

	api.PUT("/jobs/:job_id", func(c context.Context, ctx *app.RequestContext) {
		var req handler.JobCreateRequest
		if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
			return
		}
		record, err := jobHandler.HandleUpdateJob(c, ctx.Param("job_id"), &req)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, record)
	})

	api.GET("/jobs/:job_id", func(c context.Context, ctx *app.RequestContext) {
		record, err := jobHandler.HandleGetJob(c, ctx.Param("job_id"))
		if err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, record)
	})

	api.DELETE("/jobs/:job_id", func(c context.Context, ctx *app.RequestContext) {
		jobID := ctx.Param("job_id")
		if err := jobHandler.HandleDeleteJob(c, jobID); err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"job_id": jobID, "status": "DELETED"})
	})

	api.GET("/jobs/:job_id/candidates", func(c context.Context, ctx *app.RequestContext) {
		jobID := ctx.Param("job_id")
		topK, _ := strconv.Atoi(ctx.Query("top_k"))
		persist := strings.EqualFold(ctx.Query("persist"), "1") || strings.EqualFold(ctx.Query("persist"), "true")

		resp, err := matchHandler.HandleRankCandidates(c, jobID, topK, persist)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.GET("/jobs/:job_id/candidates/:resume_id/score", func(c context.Context, ctx *app.RequestContext) {
		result, err := matchHandler.HandleScorePair(c, ctx.Param("job_id"), ctx.Param("resume_id"))
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, result)
	})
}
