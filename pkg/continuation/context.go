package continuation

import (
	"context"

	"github.com/KodaTao/AgentResume/pkg/observability"
)

// ContextKey 上下文键类型
type ContextKey string

// ThreadIDKey 会话 ID 上下文键
const ThreadIDKey ContextKey = "thread_id"

func init() {
	observability.RegisterThreadIDExtractor(ThreadIDFromContext)
}

// WithThreadID 将会话 ID 添加到 context
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, ThreadIDKey, threadID)
}

// ThreadIDFromContext 从 context 获取会话 ID
func ThreadIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ThreadIDKey).(string); ok {
		return id
	}
	return ""
}
