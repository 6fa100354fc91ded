package constants

import "time"

const (
	// DefaultExtractorVer 结构化抽取流程版本，写入记录元数据便于重处理
	DefaultExtractorVer = "1.0"

	// ExtractionCacheDuration 抽取结果缓存时长（按原文 MD5 命中）
	ExtractionCacheDuration = 24 * time.Hour

	// JobVectorCacheDuration 岗位向量缓存时长
	JobVectorCacheDuration = 24 * time.Hour

	// RankSessionCacheDuration 排序会话缓存时长
	RankSessionCacheDuration = 30 * time.Minute

	// RankLockDuration 排序分布式锁的持有上限
	RankLockDuration = 30 * time.Second
)

// 推荐等级标签，按 overall_score 阈值划分
const (
	RecommendationStrong   = "strong match"
	RecommendationGood     = "good match"
	RecommendationModerate = "moderate match"
	RecommendationWeak     = "weak match"
)
