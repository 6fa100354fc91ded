package matcher

import (
	"fmt"
	"math"
	"strings"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/types"
)

// Weights 三个子分数的加权系数，三者之和应为1
type Weights struct {
	Skills     float64
	Experience float64
	Semantic   float64
}

// DefaultWeights 返回默认权重 0.4/0.3/0.3
func DefaultWeights() Weights {
	return Weights{Skills: 0.4, Experience: 0.3, Semantic: 0.3}
}

// Scorer 对单个 (岗位, 候选人) 对计算匹配分数。
// 无状态，可并发使用。
type Scorer struct {
	weights Weights
}

// ScorerOption 定义Scorer的配置选项
type ScorerOption func(*Scorer)

// WithWeights 覆盖默认权重
func WithWeights(w Weights) ScorerOption {
	return func(s *Scorer) {
		s.weights = w
	}
}

// NewScorer 创建匹配打分器
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		weights: DefaultWeights(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score 计算一对 (岗位, 候选人) 的匹配结果。
// 向量须已预先计算，维度一致且非零，否则返回 ErrInvalidEmbedding。
func (s *Scorer) Score(job *types.JobRecord, resume *types.ResumeRecord, jobVec, resumeVec []float64) (*types.MatchResult, error) {
	if job == nil || resume == nil {
		return nil, fmt.Errorf("岗位和候选人记录不能为空")
	}
	if err := validateEmbeddings(job.JobID, resume.ResumeID, jobVec, resumeVec); err != nil {
		return nil, err
	}

	semanticScore := semanticSimilarity(jobVec, resumeVec)
	skillsScore, matching, missing := skillsMatch(job.RequiredSkills, resume.TechnicalSkills)
	experienceScore := experienceMatch(resume.TotalYearsExperience, job.RequiredYearsExperience)

	overall := s.weights.Skills*skillsScore +
		s.weights.Experience*experienceScore +
		s.weights.Semantic*semanticScore

	result := &types.MatchResult{
		JobID:                   job.JobID,
		ResumeID:                resume.ResumeID,
		SkillsMatchScore:        skillsScore,
		ExperienceMatchScore:    experienceScore,
		SemanticSimilarityScore: semanticScore,
		OverallScore:            overall,
		MatchingSkills:          matching,
		MissingSkills:           missing,
		Recommendation:          recommendationFor(overall),
		CandidateName:           resume.Name,
	}
	result.Explanation = buildExplanation(job, resume, result)

	return result, nil
}

// validateEmbeddings 检查两个向量是否可用于余弦计算
func validateEmbeddings(jobID, resumeID string, jobVec, resumeVec []float64) error {
	if len(jobVec) == 0 {
		return NewInvalidEmbeddingError(jobID, resumeID, "岗位向量缺失或维度为零")
	}
	if len(resumeVec) == 0 {
		return NewInvalidEmbeddingError(jobID, resumeID, "简历向量缺失或维度为零")
	}
	if len(jobVec) != len(resumeVec) {
		return NewInvalidEmbeddingError(jobID, resumeID,
			fmt.Sprintf("向量维度不匹配: 岗位=%d, 简历=%d", len(jobVec), len(resumeVec)))
	}
	return nil
}

// semanticSimilarity 计算余弦相似度并收敛到 [0,1]。
// 约定：embedding 模型输出接近 L2 归一化，直接对余弦值做 clamp，
// 负相似度按 0 处理。零向量的相似度定义为 0。
func semanticSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01(cos)
}

// skillsMatch 计算技能匹配分数。
// 比较时忽略大小写与首尾空白，命中/缺失列表保留岗位侧原始写法。
// 岗位无必备技能时按 1.0 计（无要求即满足）。
func skillsMatch(required, candidate []string) (score float64, matching, missing []string) {
	matching = make([]string, 0, len(required))
	missing = make([]string, 0, len(required))

	// 去重后的必备技能列表，保留首次出现的写法
	seen := make(map[string]bool, len(required))
	normalizedRequired := make([]string, 0, len(required))
	originals := make([]string, 0, len(required))
	for _, skill := range required {
		norm := normalizeSkill(skill)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		normalizedRequired = append(normalizedRequired, norm)
		originals = append(originals, strings.TrimSpace(skill))
	}

	if len(normalizedRequired) == 0 {
		return 1.0, matching, missing
	}

	candidateSet := make(map[string]bool, len(candidate))
	for _, skill := range candidate {
		if norm := normalizeSkill(skill); norm != "" {
			candidateSet[norm] = true
		}
	}

	matched := 0
	for i, norm := range normalizedRequired {
		if candidateSet[norm] {
			matched++
			matching = append(matching, originals[i])
		} else {
			missing = append(missing, originals[i])
		}
	}

	return float64(matched) / float64(len(normalizedRequired)), matching, missing
}

func normalizeSkill(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// experienceMatch 计算经验匹配分数。
// 岗位未给出年限要求时按 1.0 计。
func experienceMatch(candidateYears, requiredYears float64) float64 {
	if requiredYears <= 0 {
		return 1.0
	}
	return clamp01(candidateYears / requiredYears)
}

// recommendationFor 按综合分阈值给出推荐等级
func recommendationFor(overall float64) string {
	switch {
	case overall >= 0.8:
		return constants.RecommendationStrong
	case overall >= 0.6:
		return constants.RecommendationGood
	case overall >= 0.4:
		return constants.RecommendationModerate
	default:
		return constants.RecommendationWeak
	}
}

// buildExplanation 从各子分数拼接说明文本，不做额外推断
func buildExplanation(job *types.JobRecord, resume *types.ResumeRecord, r *types.MatchResult) string {
	var b strings.Builder

	candidateName := resume.Name
	if candidateName == "" {
		candidateName = resume.ResumeID
	}
	jobTitle := job.Title
	if jobTitle == "" {
		jobTitle = job.JobID
	}

	fmt.Fprintf(&b, "候选人 %s 与岗位 %s 的综合匹配度为 %.0f%%（%s）。",
		candidateName, jobTitle, r.OverallScore*100, r.Recommendation)
	fmt.Fprintf(&b, "技能匹配 %.0f%%", r.SkillsMatchScore*100)
	if len(r.MatchingSkills) > 0 {
		fmt.Fprintf(&b, "，命中: %s", strings.Join(r.MatchingSkills, ", "))
	}
	if len(r.MissingSkills) > 0 {
		fmt.Fprintf(&b, "，缺失: %s", strings.Join(r.MissingSkills, ", "))
	}
	fmt.Fprintf(&b, "。经验匹配 %.0f%%（候选人 %.1f 年", r.ExperienceMatchScore*100, resume.TotalYearsExperience)
	if job.RequiredYearsExperience > 0 {
		fmt.Fprintf(&b, "，岗位要求 %.1f 年", job.RequiredYearsExperience)
	}
	fmt.Fprintf(&b, "）。语义相似度 %.0f%%。", r.SemanticSimilarityScore*100)

	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
