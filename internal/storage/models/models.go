package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// 简历处理状态
const (
	StatusPendingParsing = "PENDING_PARSING"
	StatusProcessing     = "PROCESSING"
	StatusCompleted      = "COMPLETED"
	StatusFailed         = "FAILED"
)

// ResumeRecordRow 简历记录表。
// StructuredDataJSON 保存完整的结构化抽取结果，列字段是其中的检索用冗余。
type ResumeRecordRow struct {
	ResumeID             string         `gorm:"type:char(36);primaryKey"`
	Name                 string         `gorm:"type:varchar(255)"`
	Email                string         `gorm:"type:varchar(255);index:idx_rr_email"`
	Phone                string         `gorm:"type:varchar(50)"`
	Location             string         `gorm:"type:varchar(255)"`
	Title                string         `gorm:"type:varchar(255)"`
	TotalYearsExperience float64        `gorm:"type:float"`
	StructuredDataJSON   datatypes.JSON `gorm:"type:json"`
	RawTextMD5           string         `gorm:"type:char(32);index:idx_rr_raw_text_md5"`
	OriginalFilename     string         `gorm:"type:varchar(255)"`
	OriginalFilePathOSS  string         `gorm:"type:varchar(1024)"`
	ProcessingStatus     string         `gorm:"type:varchar(50);default:'PENDING_PARSING';index:idx_rr_processing_status"`
	ExtractorVersion     string         `gorm:"type:varchar(50)"`
	CreatedAt            time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt            time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeRecordRow) TableName() string {
	return "resume_records"
}

// JobRecordRow 岗位记录表
type JobRecordRow struct {
	JobID                   string         `gorm:"type:char(36);primaryKey"`
	JobTitle                string         `gorm:"type:varchar(255)"`
	Company                 string         `gorm:"type:varchar(255)"`
	RequiredYearsExperience float64        `gorm:"type:float"`
	JobDescriptionText      string         `gorm:"type:text;not null"`
	StructuredDataJSON      datatypes.JSON `gorm:"type:json"`
	Status                  string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jr_status"`
	CreatedAt               time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt               time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (JobRecordRow) TableName() string {
	return "job_records"
}

// JobVector 存储岗位的向量表示
type JobVector struct {
	JobID                 string       `gorm:"type:char(36);primaryKey"`
	VectorRepresentation  []byte       `gorm:"type:mediumblob;not null"` // 存储序列化后的向量
	EmbeddingModelVersion string       `gorm:"type:varchar(100);not null"`
	CreatedAt             time.Time    `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt             time.Time    `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
	Job                   JobRecordRow `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (JobVector) TableName() string {
	return "job_vectors"
}

// MatchResultRow 匹配结果表，仅在显式请求持久化时写入
type MatchResultRow struct {
	MatchID                 uint64         `gorm:"primaryKey;autoIncrement"`
	JobID                   string         `gorm:"type:char(36);not null;index:idx_mr_job_id_overall,priority:1"`
	ResumeID                string         `gorm:"type:char(36);not null;index:idx_mr_resume_id"`
	SkillsMatchScore        float64        `gorm:"type:float"`
	ExperienceMatchScore    float64        `gorm:"type:float"`
	SemanticSimilarityScore float64        `gorm:"type:float"`
	OverallScore            float64        `gorm:"type:float;index:idx_mr_job_id_overall,priority:2"`
	MatchingSkillsJSON      datatypes.JSON `gorm:"type:json"`
	MissingSkillsJSON       datatypes.JSON `gorm:"type:json"`
	Explanation             string         `gorm:"type:text"`
	Recommendation          string         `gorm:"type:varchar(50)"`
	CandidateName           string         `gorm:"type:varchar(255)"`
	CreatedAt               time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	Job    *JobRecordRow    `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Resume *ResumeRecordRow `gorm:"foreignKey:ResumeID;references:ResumeID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (MatchResultRow) TableName() string {
	return "job_resume_matches"
}

// StringToJSON Helper function to convert string to datatypes.JSON
func StringToJSON(s string) datatypes.JSON {
	return datatypes.JSON(s)
}

// ToJSON 将任意可序列化值转换为 datatypes.JSON
func ToJSON(v interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
