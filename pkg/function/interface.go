// Package function 提供可供 Agent 调用的函数接口与注册表
package function

import (
	"context"
	"reflect"
)

// Function 是所有可调用函数的基础接口
// Agent 通过 Name() 识别函数，通过 Description() 理解函数用途
type Function interface {
	// Name 返回函数的唯一标识符
	// 命名规范：小写字母、数字、下划线，如 "reschedule_self"
	Name() string

	// Description 返回函数描述
	Description() string

	// Execute 执行函数
	// params 是解码后的结构化参数，类型由 ParamsType() 决定
	Execute(ctx context.Context, params any) (Result, error)

	// ParamsType 返回参数的反射类型
	// 返回 nil 表示该函数不需要参数
	ParamsType() reflect.Type
}

// Result 函数执行结果
type Result struct {
	// Data 结构化数据
	Data any `json:"data,omitempty"`

	// Message 简短的文本消息，直接返回给 Agent
	Message string `json:"message,omitempty"`
}

// FunctionInfo 函数元信息，用于 API 返回
type FunctionInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamInfo `json:"parameters,omitempty"`
}

// ParamInfo 参数元信息
type ParamInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
}
