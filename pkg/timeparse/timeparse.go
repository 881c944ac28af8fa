// Package timeparse 提供时间表达式解析功能
// 支持相对时间（in 5 minutes）、绝对时间（2024-01-15 10:30）和自然语言（tomorrow at 9am）
package timeparse

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Unit 相对时间单位
type Unit string

const (
	UnitSecond Unit = "second"
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
)

// unitAliases 单位别名 -> 标准单位
var unitAliases = map[string]Unit{
	"s": UnitSecond, "sec": UnitSecond, "secs": UnitSecond, "second": UnitSecond, "seconds": UnitSecond,
	"m": UnitMinute, "min": UnitMinute, "mins": UnitMinute, "minute": UnitMinute, "minutes": UnitMinute,
	"h": UnitHour, "hr": UnitHour, "hrs": UnitHour, "hour": UnitHour, "hours": UnitHour,
	"d": UnitDay, "day": UnitDay, "days": UnitDay,
	"w": UnitWeek, "wk": UnitWeek, "wks": UnitWeek, "week": UnitWeek, "weeks": UnitWeek,
}

// unitSpans 单位对应的时长，天/周仅用于范围检查
var unitSpans = map[Unit]time.Duration{
	UnitSecond: time.Second,
	UnitMinute: time.Minute,
	UnitHour:   time.Hour,
	UnitDay:    24 * time.Hour,
	UnitWeek:   7 * 24 * time.Hour,
}

// ErrOffsetOverflow 偏移量超出 time.Duration 可表示的范围（约 292 年）
var ErrOffsetOverflow = errors.New("offset out of range")

// relativePattern 匹配 "in 5 minutes"、"45 min from now"、"an hour later" 等
var relativePattern = regexp.MustCompile(`(?i)^\s*(?:in\s+)?(\d+|an?)\s*([a-z]+)\s*(?:from\s+now|later)?\s*$`)

// Parser 时间表达式解析器
type Parser struct {
	location *time.Location
	fuzzy    *when.Parser
	layouts  *now.Config
}

// Option 解析器选项
type Option func(*Parser)

// WithLocation 指定绝对时间的时区（默认使用 now 参数的时区）
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		p.location = loc
	}
}

// New 创建解析器
func New(opts ...Option) *Parser {
	fuzzy := when.New(nil)
	fuzzy.Add(en.All...)
	fuzzy.Add(common.All...)

	p := &Parser{fuzzy: fuzzy}
	for _, opt := range opts {
		opt(p)
	}

	p.layouts = &now.Config{
		WeekStartDay: time.Monday,
		TimeLocation: p.location,
		TimeFormats:  now.TimeFormats,
	}
	return p
}

// Resolve 将时间表达式解析为具体时间点
// 依次尝试：相对时间 -> 固定格式的绝对时间 -> 自然语言
func (p *Parser) Resolve(expression string, base time.Time) (time.Time, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return time.Time{}, &UnparsableTimeError{Expression: expression}
	}
	if p.location != nil {
		base = base.In(p.location)
	}

	// 相对时间语法匹配但数值越界时直接失败，不再交给自然语言解析器
	if t, ok, err := parseRelative(expr, base); err != nil {
		return time.Time{}, &UnparsableTimeError{Expression: expression, Cause: err}
	} else if ok {
		return t, nil
	}

	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}

	cfg := *p.layouts
	if cfg.TimeLocation == nil {
		cfg.TimeLocation = base.Location()
	}
	if t, err := cfg.With(base).Parse(expr); err == nil {
		return t, nil
	}

	result, err := p.fuzzy.Parse(expr, base)
	if err != nil {
		return time.Time{}, &UnparsableTimeError{Expression: expression, Cause: err}
	}
	if result == nil {
		return time.Time{}, &UnparsableTimeError{Expression: expression}
	}
	return result.Time, nil
}

// parseRelative 解析相对时间表达式
// 不符合相对时间语法时返回 ok=false；符合语法但数值越界时返回 error
func parseRelative(expr string, base time.Time) (time.Time, bool, error) {
	m := relativePattern.FindStringSubmatch(expr)
	if m == nil {
		return time.Time{}, false, nil
	}

	unit, ok := unitAliases[strings.ToLower(m[2])]
	if !ok {
		return time.Time{}, false, nil
	}

	amount := 1
	if !strings.HasPrefix(strings.ToLower(m[1]), "a") {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %s %s", ErrOffsetOverflow, m[1], m[2])
		}
		amount = n
	}

	t, err := Offset(base, amount, unit)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Offset 计算 base 之后 amount 个 unit 的时间点
// 秒/分/时按时长累加，天/周按日历累加，进位由 time 包处理
// 偏移量超过 time.Duration 的表示范围时返回 ErrOffsetOverflow
func Offset(base time.Time, amount int, unit Unit) (time.Time, error) {
	if amount < 0 {
		return time.Time{}, fmt.Errorf("offset must not be negative: %d", amount)
	}

	span, ok := unitSpans[unit]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown time unit: %s", unit)
	}
	if int64(amount) > math.MaxInt64/int64(span) {
		return time.Time{}, fmt.Errorf("%w: %d %ss", ErrOffsetOverflow, amount, unit)
	}

	switch unit {
	case UnitDay:
		return base.AddDate(0, 0, amount), nil
	case UnitWeek:
		return base.AddDate(0, 0, 7*amount), nil
	default:
		return base.Add(time.Duration(amount) * span), nil
	}
}

// DefaultParser 默认解析器
var DefaultParser = New()

// Resolve 使用默认解析器解析时间表达式
func Resolve(expression string, base time.Time) (time.Time, error) {
	return DefaultParser.Resolve(expression, base)
}

// ErrUnparsableTime 无法识别的时间表达式
var ErrUnparsableTime = errors.New("unparsable time expression")

// UnparsableTimeError 时间表达式解析失败
type UnparsableTimeError struct {
	Expression string
	Cause      error
}

func (e *UnparsableTimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("could not parse time string %q: %v", e.Expression, e.Cause)
	}
	return fmt.Sprintf("could not parse time string %q", e.Expression)
}

// Is 使 errors.Is(err, ErrUnparsableTime) 成立
func (e *UnparsableTimeError) Is(target error) bool {
	return target == ErrUnparsableTime
}

func (e *UnparsableTimeError) Unwrap() error {
	return e.Cause
}
