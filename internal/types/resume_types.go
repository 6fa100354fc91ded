package types

import "time"

// ResumeRecord 表示一份简历经 LLM 结构化抽取后的完整记录。
// 记录创建后不可变，重新处理时整体替换。
type ResumeRecord struct {
	// ResumeID 简历唯一标识
	ResumeID string `json:"resume_id"`

	// 基本信息
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`

	// 经验信息
	TotalYearsExperience float64     `json:"total_years_experience"`
	WorkHistory          []WorkEntry `json:"work_history,omitempty"`

	// 技能信息
	TechnicalSkills []string `json:"technical_skills"`
	SoftSkills      []string `json:"soft_skills,omitempty"`
	Certifications  []string `json:"certifications,omitempty"`

	// 领域与工具
	Domains    []string `json:"domains,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	Frameworks []string `json:"frameworks,omitempty"`
	Platforms  []string `json:"platforms,omitempty"`

	// 摘要与原文
	Summary string `json:"summary,omitempty"`
	RawText string `json:"raw_text,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// WorkEntry 一段工作经历
type WorkEntry struct {
	Company      string   `json:"company,omitempty"`
	Role         string   `json:"role,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
}

// EmbeddingText 返回用于生成向量的拼接文本。
// 摘要优先，其次技能与经历，保证向量承载匹配所需的语义。
func (r *ResumeRecord) EmbeddingText() string {
	parts := make([]string, 0, 4)
	if r.Summary != "" {
		parts = append(parts, r.Summary)
	}
	if len(r.TechnicalSkills) > 0 {
		parts = append(parts, "技能: "+joinNonEmpty(r.TechnicalSkills))
	}
	for _, w := range r.WorkHistory {
		if w.Role != "" || w.Company != "" {
			parts = append(parts, w.Role+" @ "+w.Company)
		}
	}
	if len(parts) == 0 && r.RawText != "" {
		parts = append(parts, r.RawText)
	}
	return joinNonEmpty(parts)
}

func joinNonEmpty(items []string) string {
	out := ""
	for _, s := range items {
		if s == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += s
	}
	return out
}
