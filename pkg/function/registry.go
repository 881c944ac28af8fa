package function

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KodaTao/AgentResume/pkg/observability"
)

// Registry 函数注册表
// 线程安全，支持并发读写
type Registry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewRegistry 创建新的注册表
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]Function),
	}
}

// Register 注册一个 Function
// 如果同名 Function 已存在，会被覆盖
func (r *Registry) Register(fn Function) error {
	if fn == nil {
		return ErrNilFunction
	}
	name := fn.Name()
	if name == "" {
		return ErrEmptyFunctionName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.functions[name] = fn
	observability.Debug("Function registered", "name", name)
	return nil
}

// RegisterAll 批量注册 Functions
func (r *Registry) RegisterAll(fns ...Function) error {
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

// Get 获取指定名称的 Function
func (r *Registry) Get(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.functions[name]
	return fn, ok
}

// Has 检查是否存在指定名称的 Function
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List 列出所有已注册的 Function 名称（按名称排序）
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// ListInfo 列出所有 Function 的详细信息（按名称排序）
func (r *Registry) ListInfo() []FunctionInfo {
	r.mu.RLock()
	infos := make([]FunctionInfo, 0, len(r.functions))
	for _, fn := range r.functions {
		infos = append(infos, FunctionInfo{
			Name:        fn.Name(),
			Description: fn.Description(),
			Parameters:  ExtractParamInfo(fn),
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Count 返回已注册的 Function 数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.functions)
}

// Execute 执行指定的 Function，params 需已解码为 ParamsType 对应的类型
func (r *Registry) Execute(ctx context.Context, name string, params any) (Result, error) {
	fn, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}

	start := time.Now()
	result, err := fn.Execute(ctx, params)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.FunctionCallLog(ctx, name, status, time.Since(start).Milliseconds())

	return result, err
}

// 错误定义
var (
	ErrNilFunction       = errors.New("function cannot be nil")
	ErrEmptyFunctionName = errors.New("function name cannot be empty")
	ErrFunctionNotFound  = errors.New("function not found")
)
