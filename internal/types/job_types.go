package types

import "time"

// JobRecord 表示一个岗位经结构化抽取后的记录
type JobRecord struct {
	// JobID 岗位唯一标识
	JobID string `json:"job_id"`

	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`

	// 技能要求。RequiredSkills 参与匹配打分，PreferredSkills 仅作展示
	RequiredSkills  []string `json:"required_skills"`
	PreferredSkills []string `json:"preferred_skills,omitempty"`

	// RequiredYearsExperience 要求的工作年限，0 表示无要求
	RequiredYearsExperience float64 `json:"required_years_experience"`

	Responsibilities []string `json:"responsibilities,omitempty"`

	Summary string `json:"summary,omitempty"`
	RawText string `json:"raw_text,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingText 返回岗位用于生成向量的拼接文本
func (j *JobRecord) EmbeddingText() string {
	parts := make([]string, 0, 4)
	if j.Title != "" {
		parts = append(parts, j.Title)
	}
	if j.Summary != "" {
		parts = append(parts, j.Summary)
	}
	if len(j.RequiredSkills) > 0 {
		parts = append(parts, "要求技能: "+joinNonEmpty(j.RequiredSkills))
	}
	if len(j.Responsibilities) > 0 {
		parts = append(parts, joinNonEmpty(j.Responsibilities))
	}
	if len(parts) == 0 && j.RawText != "" {
		parts = append(parts, j.RawText)
	}
	return joinNonEmpty(parts)
}
