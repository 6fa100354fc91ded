package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"resume-match-go/internal/types"
)

// resumeExtractionSchema LLM输出的简历结构化抽取结果
type resumeExtractionSchema struct {
	Name                 string            `json:"name"`
	Title                string            `json:"title"`
	Email                string            `json:"email"`
	Phone                string            `json:"phone"`
	Location             string            `json:"location"`
	TotalYearsExperience float64           `json:"total_years_experience"`
	WorkHistory          []workEntrySchema `json:"work_history"`
	TechnicalSkills      []string          `json:"technical_skills"`
	SoftSkills           []string          `json:"soft_skills"`
	Certifications       []string          `json:"certifications"`
	Domains              []string          `json:"domains"`
	Languages            []string          `json:"languages"`
	Frameworks           []string          `json:"frameworks"`
	Platforms            []string          `json:"platforms"`
	Summary              string            `json:"summary"`
}

type workEntrySchema struct {
	Company      string   `json:"company"`
	Role         string   `json:"role"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	Achievements []string `json:"achievements"`
}

// jobExtractionSchema LLM输出的岗位结构化抽取结果
type jobExtractionSchema struct {
	Title                   string   `json:"title"`
	Company                 string   `json:"company"`
	RequiredSkills          []string `json:"required_skills"`
	PreferredSkills         []string `json:"preferred_skills"`
	RequiredYearsExperience float64  `json:"required_years_experience"`
	Responsibilities        []string `json:"responsibilities"`
	Summary                 string   `json:"summary"`
}

// LLMExtractor 封装LLM客户端与结构化抽取的Prompt逻辑。
// 简历抽取失败时降级为仅含原文的默认记录，岗位抽取失败直接报错。
type LLMExtractor struct {
	llmModel     model.ToolCallingChatModel
	resumePrompt string
	jobPrompt    string
	maxRetries   int
	retryWait    time.Duration
	logger       *log.Logger
}

// LLMExtractorOption 是抽取器的配置选项
type LLMExtractorOption func(*LLMExtractor)

// WithResumePromptTemplate 设置自定义的简历抽取提示词模板
func WithResumePromptTemplate(template string) LLMExtractorOption {
	return func(e *LLMExtractor) {
		e.resumePrompt = template
	}
}

// WithJobPromptTemplate 设置自定义的岗位抽取提示词模板
func WithJobPromptTemplate(template string) LLMExtractorOption {
	return func(e *LLMExtractor) {
		e.jobPrompt = template
	}
}

// WithExtractorRetries 设置抽取失败的重试次数与间隔
func WithExtractorRetries(maxRetries int, wait time.Duration) LLMExtractorOption {
	return func(e *LLMExtractor) {
		if maxRetries >= 0 {
			e.maxRetries = maxRetries
		}
		if wait > 0 {
			e.retryWait = wait
		}
	}
}

// NewLLMExtractor 创建一个新的结构化抽取器实例
func NewLLMExtractor(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...LLMExtractorOption) *LLMExtractor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	extractor := &LLMExtractor{
		llmModel:   llmModel,
		maxRetries: 2,
		retryWait:  2 * time.Second,
		logger:     logger,
	}

	extractor.generatePromptTemplates()

	for _, opt := range options {
		opt(extractor)
	}

	return extractor
}

func (e *LLMExtractor) generatePromptTemplates() {
	e.resumePrompt = `你是一位资深的简历信息抽取专家。你的任务是从下面的【简历原文】中抽取结构化信息，并严格按照指定的JSON格式输出。

**输出的JSON对象必须且只能包含以下字段：**
1.  "name": 字符串，候选人姓名，无法确定时为空字符串。
2.  "title": 字符串，候选人当前或最近的职位头衔。
3.  "email": 字符串，邮箱。
4.  "phone": 字符串，电话。
5.  "location": 字符串，所在地。
6.  "total_years_experience": 数字，总工作年限，无法确定时为 0。
7.  "work_history": 数组，按时间倒序排列，每项包含 "company", "role", "start_date", "end_date", "achievements"(字符串数组)。
8.  "technical_skills": 字符串数组，技术技能（编程语言、工具、平台等以外的统称技能也放这里）。
9.  "soft_skills": 字符串数组，软技能。
10. "certifications": 字符串数组，证书。
11. "domains": 字符串数组，熟悉的业务领域或专业方向。
12. "languages": 字符串数组，编程语言。
13. "frameworks": 字符串数组，框架。
14. "platforms": 字符串数组，平台（云服务、操作系统等）。
15. "summary": 字符串（150字以内），概括候选人核心能力与经验。

**格式要求：**
- 完整输出必须是一个合法的JSON对象，不得输出JSON以外的任何文本或Markdown标记。
- 所有字段都必须出现，没有对应信息时用空字符串、0 或空数组。
- 字符串值内部的双引号必须用反斜杠转义。
- 不要编造简历中不存在的信息。

【简历原文】:
"""
%s
"""

请输出JSON结果。`

	e.jobPrompt = `你是一位资深的招聘信息抽取专家。你的任务是从下面的【岗位描述】中抽取结构化信息，并严格按照指定的JSON格式输出。

**输出的JSON对象必须且只能包含以下字段：**
1.  "title": 字符串，岗位名称。
2.  "company": 字符串，公司名称，无法确定时为空字符串。
3.  "required_skills": 字符串数组，岗位明确要求的必备技能。
4.  "preferred_skills": 字符串数组，加分项技能。
5.  "required_years_experience": 数字，要求的最少工作年限，未提及时为 0。
6.  "responsibilities": 字符串数组，岗位职责。
7.  "summary": 字符串（150字以内），概括岗位的核心要求。

**格式要求：**
- 完整输出必须是一个合法的JSON对象，不得输出JSON以外的任何文本或Markdown标记。
- 所有字段都必须出现，没有对应信息时用空字符串、0 或空数组。
- 字符串值内部的双引号必须用反斜杠转义。
- 必备技能与加分项要严格按照原文区分，不要混淆。

【岗位描述】:
"""
%s
"""

请输出JSON结果。`
}

// ExtractResume 从简历原文抽取结构化记录。
// 任何抽取或解析失败都降级为仅含原文的默认记录，不向上传播错误。
func (e *LLMExtractor) ExtractResume(ctx context.Context, resumeID, rawText string) *types.ResumeRecord {
	var schema resumeExtractionSchema
	if err := e.extract(ctx, fmt.Sprintf(e.resumePrompt, rawText), &schema); err != nil {
		e.logger.Printf("简历结构化抽取失败, 降级为默认记录, resumeID=%s: %v", resumeID, err)
		return DefaultResumeRecord(resumeID, rawText)
	}

	if schema.TotalYearsExperience < 0 {
		schema.TotalYearsExperience = 0
	}

	record := &types.ResumeRecord{
		ResumeID:             resumeID,
		Name:                 schema.Name,
		Title:                schema.Title,
		Email:                schema.Email,
		Phone:                schema.Phone,
		Location:             schema.Location,
		TotalYearsExperience: schema.TotalYearsExperience,
		TechnicalSkills:      emptyIfNil(schema.TechnicalSkills),
		SoftSkills:           schema.SoftSkills,
		Certifications:       schema.Certifications,
		Domains:              schema.Domains,
		Languages:            schema.Languages,
		Frameworks:           schema.Frameworks,
		Platforms:            schema.Platforms,
		Summary:              schema.Summary,
		RawText:              rawText,
		CreatedAt:            time.Now(),
	}
	for _, w := range schema.WorkHistory {
		record.WorkHistory = append(record.WorkHistory, types.WorkEntry{
			Company:      w.Company,
			Role:         w.Role,
			StartDate:    w.StartDate,
			EndDate:      w.EndDate,
			Achievements: w.Achievements,
		})
	}
	return record
}

// ExtractJob 从岗位描述抽取结构化记录。
// 岗位侧抽取失败对调用方是致命的，直接返回错误。
func (e *LLMExtractor) ExtractJob(ctx context.Context, jobID, rawText string) (*types.JobRecord, error) {
	var schema jobExtractionSchema
	if err := e.extract(ctx, fmt.Sprintf(e.jobPrompt, rawText), &schema); err != nil {
		return nil, fmt.Errorf("岗位结构化抽取失败: %w", err)
	}

	if schema.RequiredYearsExperience < 0 {
		schema.RequiredYearsExperience = 0
	}

	return &types.JobRecord{
		JobID:                   jobID,
		Title:                   schema.Title,
		Company:                 schema.Company,
		RequiredSkills:          emptyIfNil(schema.RequiredSkills),
		PreferredSkills:         schema.PreferredSkills,
		RequiredYearsExperience: schema.RequiredYearsExperience,
		Responsibilities:        schema.Responsibilities,
		Summary:                 schema.Summary,
		RawText:                 rawText,
		CreatedAt:               time.Now(),
	}, nil
}

// DefaultResumeRecord 抽取失败时的降级记录，仅保留原文供后续重处理
func DefaultResumeRecord(resumeID, rawText string) *types.ResumeRecord {
	return &types.ResumeRecord{
		ResumeID:        resumeID,
		TechnicalSkills: []string{},
		RawText:         rawText,
		CreatedAt:       time.Now(),
	}
}

// extract 调用LLM并把响应严格解码到目标结构，带重试
func (e *LLMExtractor) extract(ctx context.Context, prompt string, out interface{}) error {
	if e.llmModel == nil {
		return fmt.Errorf("llmModel 未初始化")
	}

	messages := []*einoschema.Message{
		einoschema.SystemMessage("你是一位严谨的信息抽取助手，只输出合法的JSON。"),
		einoschema.UserMessage(prompt),
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.retryWait):
			}
		}

		response, err := e.llmModel.Generate(ctx, messages)
		if err != nil {
			lastErr = fmt.Errorf("LLM调用失败: %w", err)
			continue
		}
		if response == nil || response.Content == "" {
			lastErr = fmt.Errorf("LLM返回空响应")
			continue
		}

		if err := decodeStrictJSON(response.Content, out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// decodeStrictJSON 从LLM响应中提取JSON并严格解码。
// 解码失败时先尝试修复字符串内部未转义的双引号再试一次。
func decodeStrictJSON(content string, out interface{}) error {
	// 去除BOM
	processed := strings.TrimPrefix(content, "\ufeff")

	jsonStr := extractJSONObject(processed)
	if jsonStr == "" {
		return fmt.Errorf("响应中未找到JSON对象: %.200s", processed)
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	if err := strictUnmarshal(jsonStr, out); err != nil {
		fixed := sanitizeJSON(jsonStr)
		if fixErr := strictUnmarshal(fixed, out); fixErr != nil {
			return fmt.Errorf("JSON解码失败: %w (修复后仍失败: %v)", err, fixErr)
		}
	}
	return nil
}

// strictUnmarshal 拒绝schema之外的未知字段，保证解码结果可信
func strictUnmarshal(jsonStr string, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// extractJSONObject 从文本中提取首个完整的JSON对象
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 会遍历 src，将任何位于字符串字面量内部但并非"真正结束"的双引号改写为转义形式，
// 以保证整个 JSON 在 Go 端能够正常反序列化。
// 它通过检查下一个非空白字符是否为 :, ], }, 或 , 来判断该 " 是否为字符串的结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					b.WriteString("\\\"")
				}
			}
			escaped = false

		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)

		} else {
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}
