package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/matcher"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("resume-match-go/storage/mysql")

type spanContextKey struct{}

// GormTracingPlugin 是一个GORM插件，为数据库操作生成OpenTelemetry追踪span
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 为各类CRUD操作注册Before/After回调
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		newCtx, span := p.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)

		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", tracing.SafeSQL(sql)))
		}

		if db.Error != nil {
			if db.Error == gorm.ErrRecordNotFound {
				// 未命中记录是正常业务分支，不算错误
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer: mysqlTracer,
		dbName: dbName,
	}
}

// Database 关系数据库接口
type Database interface {
	// DB 返回GORM数据库连接实例
	DB() *gorm.DB

	// Close 关闭数据库连接
	Close() error
}

var _ Database = (*MySQL)(nil)
var _ matcher.RecordStore = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	currentLogger := m.db.Logger

	// 迁移期间关闭SQL日志
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.ResumeRecordRow{},
		&models.JobRecordRow{},
		&models.JobVector{},
		&models.MatchResultRow{},
	)

	m.db = m.db.Session(&gorm.Session{Logger: currentLogger})

	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// UpsertResumeRecord 保存结构化简历记录，按 resume_id 幂等
func (m *MySQL) UpsertResumeRecord(ctx context.Context, record *types.ResumeRecord, rawTextMD5 string, extractorVersion string) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.UpsertResumeRecord",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("resume.id", record.ResumeID),
	)

	structured, err := models.ToJSON(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("序列化简历记录失败: %w", err)
	}

	row := models.ResumeRecordRow{
		ResumeID:             record.ResumeID,
		Name:                 record.Name,
		Email:                record.Email,
		Phone:                record.Phone,
		Location:             record.Location,
		Title:                record.Title,
		TotalYearsExperience: record.TotalYearsExperience,
		StructuredDataJSON:   structured,
		RawTextMD5:           rawTextMD5,
		ProcessingStatus:     models.StatusCompleted,
		ExtractorVersion:     extractorVersion,
	}

	err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resume_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "phone", "location", "title",
			"total_years_experience", "structured_data_json",
			"raw_text_md5", "processing_status", "extractor_version",
		}),
	}).Create(&row).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CreateResumeUpload 登记一条待处理的简历上传记录
func (m *MySQL) CreateResumeUpload(ctx context.Context, row *models.ResumeRecordRow) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resume_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"resume_id"}), // 冲突时空更新，保证幂等
	}).Create(row).Error
}

// UpdateResumeProcessingStatus 更新简历处理状态
func (m *MySQL) UpdateResumeProcessingStatus(ctx context.Context, resumeID string, status string) error {
	return m.db.WithContext(ctx).Model(&models.ResumeRecordRow{}).
		Where("resume_id = ?", resumeID).Update("processing_status", status).Error
}

// UpdateResumeRawTextMD5 更新简历的原始文本MD5
func (m *MySQL) UpdateResumeRawTextMD5(ctx context.Context, resumeID string, rawTextMD5 string) error {
	if rawTextMD5 == "" {
		return nil
	}
	return m.db.WithContext(ctx).Model(&models.ResumeRecordRow{}).
		Where("resume_id = ?", resumeID).Update("raw_text_md5", rawTextMD5).Error
}

// GetResumeRecordRow 通过 resume_id 获取简历记录行
func (m *MySQL) GetResumeRecordRow(ctx context.Context, resumeID string) (*models.ResumeRecordRow, error) {
	var row models.ResumeRecordRow
	if err := m.db.WithContext(ctx).Where("resume_id = ?", resumeID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// GetResumeRecord 返回某简历的结构化抽取结果，供匹配打分使用
func (m *MySQL) GetResumeRecord(ctx context.Context, resumeID string) (*types.ResumeRecord, error) {
	row, err := m.GetResumeRecordRow(ctx, resumeID)
	if err != nil {
		return nil, err
	}
	if len(row.StructuredDataJSON) == 0 {
		return nil, fmt.Errorf("简历 %s 尚无结构化抽取结果", resumeID)
	}
	var record types.ResumeRecord
	if err := json.Unmarshal(row.StructuredDataJSON, &record); err != nil {
		return nil, fmt.Errorf("反序列化简历记录失败: %w", err)
	}
	return &record, nil
}

// FindResumeIDByRawTextMD5 按原始文本MD5查找已有简历，用于内容去重
func (m *MySQL) FindResumeIDByRawTextMD5(ctx context.Context, rawTextMD5 string) (string, error) {
	var row models.ResumeRecordRow
	err := m.db.WithContext(ctx).Select("resume_id").
		Where("raw_text_md5 = ?", rawTextMD5).First(&row).Error
	if err != nil {
		return "", err
	}
	return row.ResumeID, nil
}

// DeleteResume 删除简历记录行
func (m *MySQL) DeleteResume(ctx context.Context, resumeID string) error {
	return m.db.WithContext(ctx).Where("resume_id = ?", resumeID).
		Delete(&models.ResumeRecordRow{}).Error
}

// SaveJob 保存岗位记录，按 job_id 幂等
func (m *MySQL) SaveJob(ctx context.Context, record *types.JobRecord) error {
	structured, err := models.ToJSON(record)
	if err != nil {
		return fmt.Errorf("序列化岗位记录失败: %w", err)
	}

	row := models.JobRecordRow{
		JobID:                   record.JobID,
		JobTitle:                record.Title,
		Company:                 record.Company,
		RequiredYearsExperience: record.RequiredYearsExperience,
		JobDescriptionText:      record.RawText,
		StructuredDataJSON:      structured,
		Status:                  "ACTIVE",
	}

	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"job_title", "company", "required_years_experience",
			"job_description_text", "structured_data_json", "status",
		}),
	}).Create(&row).Error
}

// GetJobRow 通过 job_id 获取岗位记录行
func (m *MySQL) GetJobRow(ctx context.Context, jobID string) (*models.JobRecordRow, error) {
	var row models.JobRecordRow
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// DeleteJob 删除岗位记录及其向量
func (m *MySQL) DeleteJob(ctx context.Context, jobID string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&models.JobVector{}).Error; err != nil {
			return err
		}
		return tx.Where("job_id = ?", jobID).Delete(&models.JobRecordRow{}).Error
	})
}

// SaveJobVector 保存岗位向量，按 job_id 幂等
func (m *MySQL) SaveJobVector(ctx context.Context, jobVector *models.JobVector) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"vector_representation", "embedding_model_version",
		}),
	}).Create(jobVector).Error
}

// GetJobVectorByID 通过 job_id 获取岗位向量记录
func (m *MySQL) GetJobVectorByID(ctx context.Context, jobID string) (*models.JobVector, error) {
	var jobVector models.JobVector
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&jobVector).Error; err != nil {
		return nil, err
	}
	return &jobVector, nil
}

// SaveMatchResults 批量持久化一次排名的匹配结果
func (m *MySQL) SaveMatchResults(ctx context.Context, results []types.MatchResult) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SaveMatchResults",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("db.sql.table", "match_results"),
		attribute.Int("batch.size", len(results)),
	)

	if len(results) == 0 {
		span.SetStatus(codes.Ok, "no results to insert")
		return nil
	}

	rows := make([]models.MatchResultRow, 0, len(results))
	for _, r := range results {
		matching, err := models.ToJSON(r.MatchingSkills)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("序列化匹配技能失败: %w", err)
		}
		missing, err := models.ToJSON(r.MissingSkills)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("序列化缺失技能失败: %w", err)
		}
		rows = append(rows, models.MatchResultRow{
			JobID:                   r.JobID,
			ResumeID:                r.ResumeID,
			SkillsMatchScore:        r.SkillsMatchScore,
			ExperienceMatchScore:    r.ExperienceMatchScore,
			SemanticSimilarityScore: r.SemanticSimilarityScore,
			OverallScore:            r.OverallScore,
			CandidateName:           r.CandidateName,
			MatchingSkillsJSON:      matching,
			MissingSkillsJSON:       missing,
			Explanation:             r.Explanation,
			Recommendation:          r.Recommendation,
		})
	}

	if err := m.db.WithContext(ctx).Create(&rows).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
