package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/api/router"
	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/matcher"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "配置文件路径")
	pflag.Parse()

	ctx := context.Background()

	// 1. 配置与日志
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger.Init(cfg.Logger)
	hlog.SetLogger(hertzadapter.From(logger.Logger))
	logger.Info().Str("config", *configPath).Msg("配置加载成功")

	// 2. 链路追踪
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}

	// 3. 存储层
	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储层失败")
	}
	defer store.Close()

	// 4. 模型与解析组件
	llm, err := parser.NewAliyunQwenChatModel(
		cfg.Aliyun.APIKey,
		extractorModelName(cfg),
		cfg.Aliyun.APIURL,
		parser.WithQwenTemperature(cfg.Extractor.Temperature),
		parser.WithQwenMaxTokens(cfg.Extractor.MaxTokens),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化LLM客户端失败")
	}

	extractorLogger := log.New(os.Stderr, "[LLMExtractor] ", log.LstdFlags)
	extractor := parser.NewLLMExtractor(llm, extractorLogger,
		parser.WithExtractorRetries(cfg.Extractor.MaxRetries, time.Duration(cfg.Extractor.RetryWaitSeconds)*time.Second))

	embedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化向量化客户端失败")
	}

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化PDF解析器失败")
	}

	// 5. 业务处理器
	resumeProcessor, err := processor.NewResumeProcessor(store, pdfExtractor, extractor, embedder, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化简历处理器失败")
	}
	jobProcessor, err := processor.NewJobProcessor(store, extractor, embedder, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化岗位处理器失败")
	}

	// 6. 匹配打分与排序
	scorer := matcher.NewScorer(scorerOptions(cfg)...)
	ranker, err := matcher.NewRanker(scorer, store.Qdrant, store.MySQL, rankerOptions(cfg)...)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化排序器失败")
	}

	// 7. HTTP处理器
	var fileSigner handler.FileURLSigner
	if store.MinIO != nil {
		fileSigner = store.MinIO
	}
	resumeHandler := handler.NewResumeHandler(resumeProcessor, store.MySQL, fileSigner)
	jobHandler := handler.NewJobHandler(jobProcessor)
	matchHandler := handler.NewMatchHandler(jobProcessor, store.MySQL, store.Qdrant, scorer, ranker, store.Redis, store.MySQL)

	// 8. 简历处理消费者
	stopConsumer := startResumeConsumer(cfg, store, resumeProcessor)

	// 9. Hertz服务器
	serverTracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		serverTracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, resumeHandler, jobHandler, matchHandler)
	logger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器启动中")

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP服务器启动失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("收到退出信号，开始优雅关闭")

	if stopConsumer != nil {
		close(stopConsumer)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP服务器关闭失败")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("链路追踪关闭失败")
	}
	logger.Info().Msg("优雅关闭完成")
}

func extractorModelName(cfg *config.Config) string {
	if cfg.Extractor.ModelName != "" {
		return cfg.Extractor.ModelName
	}
	return cfg.Aliyun.Model
}

func scorerOptions(cfg *config.Config) []matcher.ScorerOption {
	w := cfg.Matcher
	if w.SkillsWeight <= 0 && w.ExperienceWeight <= 0 && w.SemanticWeight <= 0 {
		return nil
	}
	return []matcher.ScorerOption{matcher.WithWeights(matcher.Weights{
		Skills:     w.SkillsWeight,
		Experience: w.ExperienceWeight,
		Semantic:   w.SemanticWeight,
	})}
}

func rankerOptions(cfg *config.Config) []matcher.RankerOption {
	var opts []matcher.RankerOption
	if cfg.Matcher.OversampleFactor > 0 {
		opts = append(opts, matcher.WithOversampleFactor(cfg.Matcher.OversampleFactor))
	}
	if cfg.Matcher.MaxConcurrentScores > 0 {
		opts = append(opts, matcher.WithMaxConcurrentScores(cfg.Matcher.MaxConcurrentScores))
	}
	if cfg.Matcher.ScoreTimeout != "" {
		if d, err := time.ParseDuration(cfg.Matcher.ScoreTimeout); err == nil {
			opts = append(opts, matcher.WithScoreTimeout(d))
		}
	}
	return opts
}

// startResumeConsumer 启动简历上传事件消费者。
// 解析和抽取类失败已在流程内标记为FAILED，直接确认；
// 基础设施故障重新入队等待重试。
func startResumeConsumer(cfg *config.Config, store *storage.Storage, p *processor.ResumeProcessor) chan struct{} {
	if store.RabbitMQ == nil {
		logger.Warn().Msg("RabbitMQ未初始化，跳过简历消费者")
		return nil
	}

	prefetch := cfg.RabbitMQ.PrefetchCount
	if prefetch <= 0 {
		prefetch = 5
	}

	consumerTracer := otel.Tracer("resume-match-go/consumer")
	stopCh, err := store.RabbitMQ.StartConsumer(cfg.RabbitMQ.RawResumeQueue, prefetch, func(body []byte) bool {
		var msg storage.ResumeUploadedMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.Error().Err(err).Msg("消息体解析失败，丢弃")
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		ctx, span := consumerTracer.Start(ctx, "Consumer.ProcessUploadedResume")
		defer span.End()

		if err := p.ProcessUploadedResume(ctx, msg); err != nil {
			if errors.Is(err, processor.ErrResumeDownloadFailed) || errors.Is(err, processor.ErrUpdateStatusFailed) {
				tracing.RecordRabbitMQNack(span, msg.ResumeID, err.Error())
				logger.Warn().
					Err(err).
					Str("resume_id", msg.ResumeID).
					Msg("基础设施故障，消息重新入队")
				return false
			}
			tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeInternal,
				attribute.String("resume.id", msg.ResumeID))
			logger.Error().
				Err(err).
				Str("resume_id", msg.ResumeID).
				Msg("简历处理失败，已标记状态")
			return true
		}
		return true
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("启动简历消费者失败")
	}
	logger.Info().
		Str("queue", cfg.RabbitMQ.RawResumeQueue).
		Int("prefetch", prefetch).
		Msg("简历消费者已启动")
	return stopCh
}
