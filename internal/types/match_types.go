package types

// MatchResult 表示一次 (岗位, 候选人) 匹配打分的完整结果。
// 每次打分新建，创建后不再修改。
type MatchResult struct {
	JobID    string `json:"job_id"`
	ResumeID string `json:"resume_id"`

	// 各子分数均在 [0,1] 区间
	SkillsMatchScore        float64 `json:"skills_match_score"`
	ExperienceMatchScore    float64 `json:"experience_match_score"`
	SemanticSimilarityScore float64 `json:"semantic_similarity_score"`

	// OverallScore 由三个子分数按固定权重加权得到
	OverallScore float64 `json:"overall_score"`

	// 技能对照，保留岗位侧原始大小写
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`

	Explanation    string `json:"explanation"`
	Recommendation string `json:"recommendation"`

	// CandidateName 展示用，来自简历记录
	CandidateName string `json:"candidate_name,omitempty"`
}

// RankRequest 排序请求参数
type RankRequest struct {
	JobID string `json:"job_id"`
	TopK  int    `json:"top_k"`
}

// RankResponse 排序响应
type RankResponse struct {
	JobID   string        `json:"job_id"`
	TopK    int           `json:"top_k"`
	Total   int           `json:"total"`
	Results []MatchResult `json:"results"`
}
