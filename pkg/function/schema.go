package function

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ExtractParamInfo 从 Function 中提取参数信息
// 使用反射读取参数结构体的字段和 tag
func ExtractParamInfo(fn Function) []ParamInfo {
	paramType := fn.ParamsType()
	if paramType == nil {
		return nil
	}

	// 如果是指针，获取元素类型
	if paramType.Kind() == reflect.Ptr {
		paramType = paramType.Elem()
	}

	// 只处理结构体类型
	if paramType.Kind() != reflect.Struct {
		return nil
	}

	return extractStructParams(paramType)
}

// extractStructParams 从结构体类型提取参数信息
func extractStructParams(t reflect.Type) []ParamInfo {
	var params []ParamInfo

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		// 跳过非导出字段
		if field.PkgPath != "" {
			continue
		}

		// 递归处理嵌入的结构体
		if field.Anonymous {
			if field.Type.Kind() == reflect.Struct {
				params = append(params, extractStructParams(field.Type)...)
			}
			continue
		}

		params = append(params, ParamInfo{
			Name:        getFieldName(field),
			Type:        getTypeName(field.Type),
			Description: field.Tag.Get("desc"),
			Required:    isRequired(field),
			Default:     field.Tag.Get("default"),
		})
	}

	return params
}

// getFieldName 获取字段名称
// 优先使用 json tag，否则使用字段名（转小写下划线）
func getFieldName(field reflect.StructField) string {
	jsonTag := field.Tag.Get("json")
	if jsonTag != "" && jsonTag != "-" {
		if name, _, _ := strings.Cut(jsonTag, ","); name != "" {
			return name
		}
	}
	return toSnakeCase(field.Name)
}

// getTypeName 获取类型的可读名称
func getTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array[" + getTypeName(t.Elem()) + "]"
	case reflect.Map:
		return "map[" + getTypeName(t.Key()) + "]" + getTypeName(t.Elem())
	case reflect.Ptr:
		return getTypeName(t.Elem())
	case reflect.Struct:
		return "object"
	default:
		return t.String()
	}
}

// isRequired 判断字段是否必填
func isRequired(field reflect.StructField) bool {
	requiredTag := field.Tag.Get("required")
	if requiredTag == "true" || requiredTag == "1" {
		return true
	}
	return strings.Contains(field.Tag.Get("validate"), "required") ||
		strings.Contains(field.Tag.Get("binding"), "required")
}

// toSnakeCase 将驼峰命名转换为下划线命名
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		if r >= 'A' && r <= 'Z' {
			result.WriteByte(byte(r + 32)) // 转小写
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// DecodeParams 将原始参数解码到目标结构体
// 字段名取自 json tag，字符串形式的数字和布尔值会被自动转换，缺失字段使用 default tag
func DecodeParams(raw map[string]any, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrInvalidTarget
	}

	input := make(map[string]any, len(raw))
	for _, info := range extractStructParams(v.Elem().Type()) {
		if info.Default != "" {
			input[info.Name] = info.Default
		}
	}
	for k, val := range raw {
		input[k] = val
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// ValidateRequired 检查必填参数是否存在
func ValidateRequired(fn Function, raw map[string]any) error {
	var missing []string
	for _, info := range ExtractParamInfo(fn) {
		if !info.Required {
			continue
		}
		if val, ok := raw[info.Name]; !ok || val == nil || val == "" {
			missing = append(missing, info.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", "))
	}
	return nil
}

// 错误定义
var (
	ErrInvalidTarget = &SchemaError{Message: "target must be a non-nil pointer to struct"}
	ErrInvalidParams = &SchemaError{Message: "invalid params"}
	ErrMissingParams = &SchemaError{Message: "missing required params"}
)

// SchemaError Schema 相关错误
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	return e.Message
}
