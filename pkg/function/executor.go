package function

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/KodaTao/AgentResume/pkg/observability"
)

// Executor 函数执行器
// 封装参数解码、超时控制与 panic 恢复
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

// NewExecutor 创建函数执行器
func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	if timeout == 0 {
		timeout = 30 * time.Second // 默认超时 30 秒
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
	}
}

// ExecuteRequest 执行请求
type ExecuteRequest struct {
	FunctionName string
	Params       map[string]any
}

// ExecuteResponse 执行响应
type ExecuteResponse struct {
	Result   Result
	Duration time.Duration
	Error    error
}

// Execute 执行函数
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) ExecuteResponse {
	start := time.Now()

	fn, ok := e.registry.Get(req.FunctionName)
	if !ok {
		return ExecuteResponse{
			Error:    fmt.Errorf("%w: %s", ErrFunctionNotFound, req.FunctionName),
			Duration: time.Since(start),
		}
	}

	params, err := e.parseParams(fn, req.Params)
	if err != nil {
		return ExecuteResponse{
			Error:    fmt.Errorf("failed to parse params: %w", err),
			Duration: time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, execErr := e.executeWithRecover(execCtx, fn, params)
	duration := time.Since(start)

	return ExecuteResponse{
		Result:   result,
		Duration: duration,
		Error:    execErr,
	}
}

// parseParams 校验并解码参数
func (e *Executor) parseParams(fn Function, raw map[string]any) (any, error) {
	paramType := fn.ParamsType()
	if paramType == nil {
		return nil, nil
	}

	if err := ValidateRequired(fn, raw); err != nil {
		return nil, err
	}

	var paramValue reflect.Value
	if paramType.Kind() == reflect.Ptr {
		paramValue = reflect.New(paramType.Elem())
	} else {
		paramValue = reflect.New(paramType)
	}

	if err := DecodeParams(raw, paramValue.Interface()); err != nil {
		return nil, err
	}

	// 如果原始类型不是指针，返回值而非指针
	if paramType.Kind() != reflect.Ptr {
		return paramValue.Elem().Interface(), nil
	}
	return paramValue.Interface(), nil
}

// executeWithRecover 执行函数并恢复 panic
func (e *Executor) executeWithRecover(ctx context.Context, fn Function, params any) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		var pc panics.Catcher
		pc.Try(func() {
			out.result, out.err = e.registry.Execute(ctx, fn.Name(), params)
		})
		if r := pc.Recovered(); r != nil {
			out.err = fmt.Errorf("function panicked: %w", r.AsError())
			observability.Error("Function panicked", "function", fn.Name(), "panic", r.Value)
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		// 超时的调用不会经过 Registry 的日志
		observability.FunctionCallLog(ctx, fn.Name(), "timeout", e.timeout.Milliseconds())
		return Result{}, fmt.Errorf("function execution timeout: %w", ctx.Err())
	}
}

// Timeout 获取超时时间
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}
