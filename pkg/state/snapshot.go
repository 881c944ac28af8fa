// Package state 提供对话快照的存储功能
package state

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Snapshot 对话快照
// Messages 为有序的对话记录，Values 为其余任意状态字段
type Snapshot struct {
	Messages []Message      `json:"messages"`
	Values   map[string]any `json:"values,omitempty"`
}

// NewSnapshot 用一组消息创建快照
func NewSnapshot(messages ...Message) Snapshot {
	return Snapshot{Messages: messages}
}

// AddMessage 追加一条消息
func (s *Snapshot) AddMessage(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// Clone 深拷贝快照，map 与 slice 类型的值会被递归复制
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{}
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	if s.Values != nil {
		out.Values = cloneMap(s.Values)
	}
	return out
}

// Merge 返回合并了 values 的新快照
// 同名字段被覆盖，其余字段保留，原快照不受影响
func (s Snapshot) Merge(values map[string]any) Snapshot {
	out := s.Clone()
	if len(values) == 0 {
		return out
	}
	if out.Values == nil {
		out.Values = make(map[string]any, len(values))
	}
	for k, v := range values {
		out.Values[k] = cloneValue(v)
	}
	return out
}

// CloneValues 深拷贝一组状态字段，nil 返回 nil
func CloneValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneMap(m)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
