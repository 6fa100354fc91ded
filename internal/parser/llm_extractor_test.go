package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockChatModel 模拟 model.ToolCallingChatModel
type MockChatModel struct {
	content string
	err     error
	calls   int
}

func (m *MockChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &schema.Message{Role: schema.Assistant, Content: m.content}, nil
}

func (m *MockChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("mock不支持流式输出")
}

func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

const validResumeJSON = `{
  "name": "张三",
  "title": "后端工程师",
  "email": "zhangsan@example.com",
  "phone": "13800000000",
  "location": "上海",
  "total_years_experience": 5,
  "work_history": [
    {"company": "A公司", "role": "高级工程师", "start_date": "2021-03", "end_date": "至今", "achievements": ["主导订单系统重构"]}
  ],
  "technical_skills": ["Python", "AWS", "Docker"],
  "soft_skills": ["沟通"],
  "certifications": [],
  "domains": ["电商"],
  "languages": ["Python", "Go"],
  "frameworks": ["Django"],
  "platforms": ["AWS"],
  "summary": "5年后端开发经验，熟悉云平台。"
}`

const validJobJSON = `{
  "title": "平台工程师",
  "company": "B公司",
  "required_skills": ["Python", "AWS"],
  "preferred_skills": ["Kubernetes"],
  "required_years_experience": 3,
  "responsibilities": ["维护基础设施"],
  "summary": "负责平台基础设施建设。"
}`

func TestExtractResume(t *testing.T) {
	mock := &MockChatModel{content: validResumeJSON}
	extractor := NewLLMExtractor(mock, nil)

	record := extractor.ExtractResume(context.Background(), "resume-1", "原始简历文本")
	require.NotNil(t, record)

	assert.Equal(t, "resume-1", record.ResumeID)
	assert.Equal(t, "张三", record.Name)
	assert.Equal(t, 5.0, record.TotalYearsExperience)
	assert.Equal(t, []string{"Python", "AWS", "Docker"}, record.TechnicalSkills)
	require.Len(t, record.WorkHistory, 1)
	assert.Equal(t, "A公司", record.WorkHistory[0].Company)
	assert.Equal(t, "原始简历文本", record.RawText)
	assert.False(t, record.CreatedAt.IsZero())
}

// TestExtractResumeWithSurroundingText LLM输出夹带说明文字时仍能提取JSON
func TestExtractResumeWithSurroundingText(t *testing.T) {
	mock := &MockChatModel{content: "好的，以下是抽取结果：\n" + validResumeJSON + "\n以上。"}
	extractor := NewLLMExtractor(mock, nil)

	record := extractor.ExtractResume(context.Background(), "resume-2", "文本")
	require.NotNil(t, record)
	assert.Equal(t, "张三", record.Name)
}

// TestExtractResumeFallsBackToDefault 抽取失败时降级为仅含原文的默认记录
func TestExtractResumeFallsBackToDefault(t *testing.T) {
	cases := []struct {
		name string
		mock *MockChatModel
	}{
		{"LLM调用失败", &MockChatModel{err: errors.New("超时")}},
		{"响应不是JSON", &MockChatModel{content: "抱歉，我无法处理"}},
		{"响应含未知字段", &MockChatModel{content: `{"name": "张三", "unexpected_field": 1}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			extractor := NewLLMExtractor(tc.mock, nil, WithExtractorRetries(0, time.Millisecond))
			record := extractor.ExtractResume(context.Background(), "resume-3", "原文内容")
			require.NotNil(t, record)
			assert.Equal(t, "resume-3", record.ResumeID)
			assert.Equal(t, "原文内容", record.RawText)
			assert.Empty(t, record.Name)
			assert.NotNil(t, record.TechnicalSkills)
			assert.Empty(t, record.TechnicalSkills)
		})
	}
}

// TestExtractResumeNegativeYearsClamped 负的工作年限被收敛为 0
func TestExtractResumeNegativeYearsClamped(t *testing.T) {
	content := `{
  "name": "李四", "title": "", "email": "", "phone": "", "location": "",
  "total_years_experience": -2,
  "work_history": [], "technical_skills": [], "soft_skills": [],
  "certifications": [], "domains": [], "languages": [], "frameworks": [],
  "platforms": [], "summary": ""
}`
	extractor := NewLLMExtractor(&MockChatModel{content: content}, nil)
	record := extractor.ExtractResume(context.Background(), "resume-4", "文本")
	assert.Equal(t, 0.0, record.TotalYearsExperience)
}

func TestExtractJob(t *testing.T) {
	mock := &MockChatModel{content: validJobJSON}
	extractor := NewLLMExtractor(mock, nil)

	job, err := extractor.ExtractJob(context.Background(), "job-1", "岗位描述原文")
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "平台工程师", job.Title)
	assert.Equal(t, []string{"Python", "AWS"}, job.RequiredSkills)
	assert.Equal(t, 3.0, job.RequiredYearsExperience)
	assert.Equal(t, "岗位描述原文", job.RawText)
}

// TestExtractJobFailureIsFatal 岗位抽取失败时返回错误而不降级
func TestExtractJobFailureIsFatal(t *testing.T) {
	mock := &MockChatModel{err: errors.New("服务不可用")}
	extractor := NewLLMExtractor(mock, nil, WithExtractorRetries(0, time.Millisecond))

	_, err := extractor.ExtractJob(context.Background(), "job-2", "岗位描述")
	require.Error(t, err)
}

// TestExtractRetries 失败后按配置重试
func TestExtractRetries(t *testing.T) {
	mock := &MockChatModel{err: errors.New("超时")}
	extractor := NewLLMExtractor(mock, nil, WithExtractorRetries(2, time.Millisecond))

	_, err := extractor.ExtractJob(context.Background(), "job-3", "岗位描述")
	require.Error(t, err)
	assert.Equal(t, 3, mock.calls, "应该调用 1 次 + 重试 2 次")
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSONObject(`前缀 {"a": 1} 后缀`))
	assert.Equal(t, `{"a": {"b": 2}}`, extractJSONObject(`{"a": {"b": 2}}`))
	assert.Equal(t, "", extractJSONObject("没有JSON"))
	assert.Equal(t, "", extractJSONObject(`{"未闭合": 1`))
}

func TestSanitizeJSON(t *testing.T) {
	// 字符串内部未转义的双引号被修复
	broken := `{"summary": "擅长"创意"文案"}`
	fixed := sanitizeJSON(broken)
	var out map[string]string
	require.NoError(t, strictUnmarshal(fixed, &out))
	assert.Equal(t, `擅长"创意"文案`, out["summary"])
}
