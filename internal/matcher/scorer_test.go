package matcher

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/types"
)

func testJob() *types.JobRecord {
	return &types.JobRecord{
		JobID:                   "job-001",
		Title:                   "后端工程师",
		RequiredSkills:          []string{"Python", "AWS"},
		RequiredYearsExperience: 3,
	}
}

// TestScoreWorkedExample 验证完整的打分示例：
// 候选人A 全部命中 → 0.94，候选人B 部分命中 → 0.48
func TestScoreWorkedExample(t *testing.T) {
	scorer := NewScorer()
	job := testJob()
	jobVec := []float64{1, 0}

	candidateA := &types.ResumeRecord{
		ResumeID:             "resume-a",
		Name:                 "候选人A",
		TechnicalSkills:      []string{"python", "aws", "Docker"},
		TotalYearsExperience: 5,
	}
	// cos([1,0], [0.8,0.6]) = 0.8
	resultA, err := scorer.Score(job, candidateA, jobVec, []float64{0.8, 0.6})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, resultA.SkillsMatchScore, 1e-9)
	assert.InDelta(t, 1.0, resultA.ExperienceMatchScore, 1e-9)
	assert.InDelta(t, 0.80, resultA.SemanticSimilarityScore, 1e-9)
	assert.InDelta(t, 0.94, resultA.OverallScore, 1e-9)
	assert.ElementsMatch(t, []string{"Python", "AWS"}, resultA.MatchingSkills)
	assert.Empty(t, resultA.MissingSkills)

	candidateB := &types.ResumeRecord{
		ResumeID:             "resume-b",
		Name:                 "候选人B",
		TechnicalSkills:      []string{"Python"},
		TotalYearsExperience: 1,
	}
	// cos([1,0], [0.6,0.8]) = 0.6
	resultB, err := scorer.Score(job, candidateB, jobVec, []float64{0.6, 0.8})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, resultB.SkillsMatchScore, 1e-9)
	assert.InDelta(t, 1.0/3.0, resultB.ExperienceMatchScore, 1e-9)
	assert.InDelta(t, 0.60, resultB.SemanticSimilarityScore, 1e-9)
	assert.InDelta(t, 0.48, resultB.OverallScore, 1e-9)
	assert.Equal(t, []string{"Python"}, resultB.MatchingSkills)
	assert.Equal(t, []string{"AWS"}, resultB.MissingSkills)
}

// TestOverallIsExactWeightedSum 对随机子分数验证综合分是精确的加权和
func TestOverallIsExactWeightedSum(t *testing.T) {
	scorer := NewScorer()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		// 随机构造各子分数的输入
		requiredYears := float64(rng.Intn(10))
		candidateYears := rng.Float64() * 15
		job := &types.JobRecord{
			JobID:                   "job-prop",
			RequiredSkills:          []string{"Go", "MySQL", "Redis", "Kafka"}[:rng.Intn(5)],
			RequiredYearsExperience: requiredYears,
		}
		resume := &types.ResumeRecord{
			ResumeID:             "resume-prop",
			TechnicalSkills:      []string{"go", "mysql"}[:rng.Intn(3)],
			TotalYearsExperience: candidateYears,
		}
		// 随机方向的单位向量对
		theta := rng.Float64() * math.Pi
		jobVec := []float64{1, 0}
		resumeVec := []float64{math.Cos(theta), math.Sin(theta)}

		result, err := scorer.Score(job, resume, jobVec, resumeVec)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, result.SkillsMatchScore, 0.0)
		assert.LessOrEqual(t, result.SkillsMatchScore, 1.0)
		assert.GreaterOrEqual(t, result.ExperienceMatchScore, 0.0)
		assert.LessOrEqual(t, result.ExperienceMatchScore, 1.0)
		assert.GreaterOrEqual(t, result.SemanticSimilarityScore, 0.0)
		assert.LessOrEqual(t, result.SemanticSimilarityScore, 1.0)
		assert.GreaterOrEqual(t, result.OverallScore, 0.0)
		assert.LessOrEqual(t, result.OverallScore, 1.0)

		expected := 0.4*result.SkillsMatchScore + 0.3*result.ExperienceMatchScore + 0.3*result.SemanticSimilarityScore
		assert.InDelta(t, expected, result.OverallScore, 1e-12)
	}
}

// TestSkillsVacuousMatch 岗位无必备技能时技能分恒为 1.0
func TestSkillsVacuousMatch(t *testing.T) {
	scorer := NewScorer()
	job := &types.JobRecord{JobID: "job-empty", RequiredSkills: nil}
	resume := &types.ResumeRecord{ResumeID: "resume-x", TechnicalSkills: []string{"Go"}}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.SkillsMatchScore)
	assert.Empty(t, result.MatchingSkills)
	assert.Empty(t, result.MissingSkills)
}

// TestSkillsEmptyCandidate 候选人技能为空且岗位有要求时技能分为 0
func TestSkillsEmptyCandidate(t *testing.T) {
	scorer := NewScorer()
	job := testJob()
	resume := &types.ResumeRecord{ResumeID: "resume-x", TechnicalSkills: nil, TotalYearsExperience: 3}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.SkillsMatchScore)
	assert.ElementsMatch(t, []string{"Python", "AWS"}, result.MissingSkills)
}

// TestSkillsSetEquality matching ∪ missing 恒等于岗位的必备技能集合
func TestSkillsSetEquality(t *testing.T) {
	scorer := NewScorer()
	job := &types.JobRecord{
		JobID:                   "job-set",
		RequiredSkills:          []string{"Go", "  MySQL ", "Redis", "go"}, // 含空白与重复
		RequiredYearsExperience: 0,
	}
	resume := &types.ResumeRecord{
		ResumeID:        "resume-set",
		TechnicalSkills: []string{"GO", "redis"},
	}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)

	union := append(append([]string{}, result.MatchingSkills...), result.MissingSkills...)
	assert.ElementsMatch(t, []string{"Go", "MySQL", "Redis"}, union)
	assert.ElementsMatch(t, []string{"Go", "Redis"}, result.MatchingSkills)
	assert.Equal(t, []string{"MySQL"}, result.MissingSkills)
	// 去重后 2/3 命中
	assert.InDelta(t, 2.0/3.0, result.SkillsMatchScore, 1e-9)
}

// TestExperienceNoRequirement 岗位年限为 0 时经验分恒为 1.0
func TestExperienceNoRequirement(t *testing.T) {
	scorer := NewScorer()
	job := &types.JobRecord{JobID: "job-exp", RequiredYearsExperience: 0}
	resume := &types.ResumeRecord{ResumeID: "resume-exp", TotalYearsExperience: 0}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.ExperienceMatchScore)
}

// TestExperienceClamped 经验超出要求时收敛到 1.0
func TestExperienceClamped(t *testing.T) {
	scorer := NewScorer()
	job := &types.JobRecord{JobID: "job-exp2", RequiredYearsExperience: 2}
	resume := &types.ResumeRecord{ResumeID: "resume-exp2", TotalYearsExperience: 10}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.ExperienceMatchScore)
}

// TestNegativeCosineClampedToZero 负余弦相似度按 0 处理
func TestNegativeCosineClampedToZero(t *testing.T) {
	scorer := NewScorer()
	job := &types.JobRecord{JobID: "job-neg"}
	resume := &types.ResumeRecord{ResumeID: "resume-neg"}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{-1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.SemanticSimilarityScore)
}

// TestInvalidEmbeddings 向量缺失或维度不匹配时返回 ErrInvalidEmbedding
func TestInvalidEmbeddings(t *testing.T) {
	scorer := NewScorer()
	job := testJob()
	resume := &types.ResumeRecord{ResumeID: "resume-x"}

	cases := []struct {
		name      string
		jobVec    []float64
		resumeVec []float64
	}{
		{"岗位向量为空", nil, []float64{1, 0}},
		{"简历向量为空", []float64{1, 0}, nil},
		{"维度不匹配", []float64{1, 0}, []float64{1, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := scorer.Score(job, resume, tc.jobVec, tc.resumeVec)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEmbedding)
		})
	}
}

// TestRecommendationThresholds 推荐等级按综合分阈值划分
func TestRecommendationThresholds(t *testing.T) {
	cases := []struct {
		overall  float64
		expected string
	}{
		{0.95, "strong match"},
		{0.80, "strong match"},
		{0.70, "good match"},
		{0.60, "good match"},
		{0.50, "moderate match"},
		{0.40, "moderate match"},
		{0.10, "weak match"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, recommendationFor(tc.overall), "overall=%v", tc.overall)
	}
}

// TestCustomWeights 自定义权重参与综合分计算
func TestCustomWeights(t *testing.T) {
	scorer := NewScorer(WithWeights(Weights{Skills: 1, Experience: 0, Semantic: 0}))
	job := testJob()
	resume := &types.ResumeRecord{
		ResumeID:             "resume-w",
		TechnicalSkills:      []string{"Python"},
		TotalYearsExperience: 0,
	}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.OverallScore, 1e-9)
}

// TestExplanationMentionsMissingSkills 说明文本包含缺失技能
func TestExplanationMentionsMissingSkills(t *testing.T) {
	scorer := NewScorer()
	job := testJob()
	resume := &types.ResumeRecord{
		ResumeID:             "resume-expl",
		Name:                 "张三",
		TechnicalSkills:      []string{"Python"},
		TotalYearsExperience: 1,
	}

	result, err := scorer.Score(job, resume, []float64{1, 0}, []float64{0.6, 0.8})
	require.NoError(t, err)
	assert.Contains(t, result.Explanation, "张三")
	assert.Contains(t, result.Explanation, "AWS")
	assert.Contains(t, result.Explanation, result.Recommendation)
}
