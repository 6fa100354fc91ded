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

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/tracing"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// 纯消费者进程：只跑简历处理流水线，不对外提供HTTP服务。
// 和API进程共用同一个队列，可以横向扩多个实例分摊解析与抽取负载。
func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "配置文件路径")
	workers := pflag.IntP("prefetch", "p", 0, "预取数量，0使用配置值")
	pflag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger.Init(cfg.Logger)

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}

	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储层失败")
	}
	defer store.Close()
	if store.RabbitMQ == nil {
		logger.Fatal().Msg("消费者进程要求RabbitMQ可用")
	}

	llm, err := parser.NewAliyunQwenChatModel(cfg.Aliyun.APIKey, extractorModelName(cfg), cfg.Aliyun.APIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化LLM客户端失败")
	}
	extractor := parser.NewLLMExtractor(llm, log.New(os.Stderr, "[LLMExtractor] ", log.LstdFlags),
		parser.WithExtractorRetries(cfg.Extractor.MaxRetries, time.Duration(cfg.Extractor.RetryWaitSeconds)*time.Second))

	embedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化向量化客户端失败")
	}
	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化PDF解析器失败")
	}

	resumeProcessor, err := processor.NewResumeProcessor(store, pdfExtractor, extractor, embedder, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化简历处理器失败")
	}

	prefetch := *workers
	if prefetch <= 0 {
		prefetch = cfg.RabbitMQ.PrefetchCount
	}
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

		msgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		msgCtx, span := consumerTracer.Start(msgCtx, "Consumer.ProcessUploadedResume")
		defer span.End()

		if err := resumeProcessor.ProcessUploadedResume(msgCtx, msg); err != nil {
			if errors.Is(err, processor.ErrResumeDownloadFailed) || errors.Is(err, processor.ErrUpdateStatusFailed) {
				tracing.RecordRabbitMQNack(span, msg.ResumeID, err.Error())
				logger.Warn().Err(err).Str("resume_id", msg.ResumeID).Msg("基础设施故障，消息重新入队")
				return false
			}
			tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeInternal,
				attribute.String("resume.id", msg.ResumeID))
			logger.Error().Err(err).Str("resume_id", msg.ResumeID).Msg("简历处理失败，已标记状态")
			return true
		}
		return true
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("启动消费者失败")
	}
	logger.Info().
		Str("queue", cfg.RabbitMQ.RawResumeQueue).
		Int("prefetch", prefetch).
		Msg("简历处理工作进程已启动")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("收到退出信号，停止消费者")
	close(stopCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("链路追踪关闭失败")
	}
}

func extractorModelName(cfg *config.Config) string {
	if cfg.Extractor.ModelName != "" {
		return cfg.Extractor.ModelName
	}
	return cfg.Aliyun.Model
}
