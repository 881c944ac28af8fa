// Package prompt 提供提示词生成和管理功能
package prompt

import (
	"bytes"
	"text/template"
	"time"

	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/prompt/templates"
)

// Generator 提示词生成器
type Generator struct {
	systemTemplate *template.Template
}

// NewGenerator 创建提示词生成器
func NewGenerator() *Generator {
	return &Generator{
		systemTemplate: template.Must(template.New("system").Parse(templates.SystemPrompt)),
	}
}

// TemplateData 模板数据
type TemplateData struct {
	CurrentTime         string
	Timezone            string
	SecondsToNextMinute int
	Functions           []function.FunctionInfo
	HasFunctions        bool
}

// NewTemplateData 根据当前时间构造模板数据
func NewTemplateData(now time.Time, functions []function.FunctionInfo) TemplateData {
	zone, _ := now.Zone()
	return TemplateData{
		CurrentTime:         now.Format("2006-01-02 15:04:05"),
		Timezone:            zone,
		SecondsToNextMinute: SecondsToNextMinute(now),
		Functions:           functions,
		HasFunctions:        len(functions) > 0,
	}
}

// GenerateSystemPrompt 生成系统提示词
func (g *Generator) GenerateSystemPrompt(now time.Time, functions []function.FunctionInfo) (string, error) {
	var buf bytes.Buffer
	if err := g.systemTemplate.Execute(&buf, NewTemplateData(now, functions)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GenerateWithCustomTemplate 使用自定义模板生成提示词
func (g *Generator) GenerateWithCustomTemplate(tmplStr string, data any) (string, error) {
	tmpl, err := template.New("custom").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SecondsToNextMinute 距离下一个整分钟的秒数，范围 1..60
func SecondsToNextMinute(now time.Time) int {
	return 60 - now.Second()
}

// CheckInMessage 唤醒时追加的用户消息
func CheckInMessage() string {
	return templates.CheckInMessage
}

// DefaultGenerator 默认生成器实例
var DefaultGenerator = NewGenerator()

// GenerateSystemPrompt 使用默认生成器生成系统提示词
func GenerateSystemPrompt(now time.Time, functions []function.FunctionInfo) (string, error) {
	return DefaultGenerator.GenerateSystemPrompt(now, functions)
}
