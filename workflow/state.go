package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// ReducerKind 通道的合并策略
type ReducerKind string

const (
	// ReducerOverwrite 新值替换旧值
	ReducerOverwrite ReducerKind = "overwrite"
	// ReducerAppend 追加到列表。切片逐元素追加，标量作为单个元素追加
	ReducerAppend ReducerKind = "append"
	// ReducerSum 数值累加，统一存储为 float64
	ReducerSum ReducerKind = "sum"
)

// Reducer defines how to merge an update into the current channel value.
type Reducer func(current, update any) (any, error)

// ReducerFor 返回指定策略的 Reducer
func ReducerFor(kind ReducerKind) (Reducer, error) {
	switch kind {
	case ReducerOverwrite, "":
		return OverwriteReducer, nil
	case ReducerAppend:
		return AppendReducer, nil
	case ReducerSum:
		return SumReducer, nil
	default:
		return nil, fmt.Errorf("unknown reducer %q", kind)
	}
}

// OverwriteReducer returns the update.
func OverwriteReducer(_, update any) (any, error) {
	return update, nil
}

// AppendReducer concatenates the update onto the current list.
func AppendReducer(current, update any) (any, error) {
	cur := toList(current)
	out := make([]any, 0, len(cur)+1)
	out = append(out, cur...)

	if update == nil {
		return out, nil
	}
	rv := reflect.ValueOf(update)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < rv.Len(); i++ {
			out = append(out, rv.Index(i).Interface())
		}
		return out, nil
	}
	return append(out, update), nil
}

// SumReducer adds numeric values.
func SumReducer(current, update any) (any, error) {
	c, err := toFloat(current)
	if err != nil {
		return nil, fmt.Errorf("current value: %w", err)
	}
	u, err := toFloat(update)
	if err != nil {
		return nil, err
	}
	return c + u, nil
}

func toList(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

// ChannelSpec 声明一个状态通道
type ChannelSpec struct {
	Name    string      `json:"name" yaml:"name"`
	Reducer ReducerKind `json:"reducer" yaml:"reducer"`
	Default any         `json:"default,omitempty" yaml:"default,omitempty"`
}

// StateSchema 有序的通道声明集合
type StateSchema struct {
	Channels []ChannelSpec `json:"channels" yaml:"channels"`
}

// Channel 按名称查找通道声明
func (s StateSchema) Channel(name string) (ChannelSpec, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ChannelSpec{}, false
}

// Validate 校验名称唯一、策略合法、Sum 默认值为数值
func (s StateSchema) Validate() error {
	seen := make(map[string]bool, len(s.Channels))
	for _, c := range s.Channels {
		if c.Name == "" {
			return fmt.Errorf("channel name is empty")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate channel %q", c.Name)
		}
		seen[c.Name] = true
		if _, err := ReducerFor(c.Reducer); err != nil {
			return fmt.Errorf("channel %q: %w", c.Name, err)
		}
		if c.Reducer == ReducerSum {
			if _, err := toFloat(c.Default); err != nil {
				return fmt.Errorf("channel %q: default: %w", c.Name, err)
			}
		}
	}
	return nil
}

// signature 返回按名称排序的 name:reducer 列表
func (s StateSchema) signature() []string {
	out := make([]string, 0, len(s.Channels))
	for _, c := range s.Channels {
		kind := c.Reducer
		if kind == "" {
			kind = ReducerOverwrite
		}
		out = append(out, c.Name+":"+string(kind))
	}
	sort.Strings(out)
	return out
}

// State 单次运行的共享状态。所有写入都经由 Apply/Restore，由驱动调用。
type State struct {
	mu       sync.RWMutex
	schema   StateSchema
	reducers map[string]Reducer
	values   map[string]any
	versions map[string]uint64
}

// NewState 以通道默认值初始化状态
func NewState(schema StateSchema) (*State, error) {
	if err := schema.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidGraph, "invalid state schema").WithCause(err)
	}

	s := &State{
		schema:   schema,
		reducers: make(map[string]Reducer, len(schema.Channels)),
		values:   make(map[string]any, len(schema.Channels)),
		versions: make(map[string]uint64, len(schema.Channels)),
	}
	for _, c := range schema.Channels {
		r, _ := ReducerFor(c.Reducer)
		s.reducers[c.Name] = r
		s.values[c.Name] = s.defaultFor(c)
	}
	return s, nil
}

func (s *State) defaultFor(c ChannelSpec) any {
	switch c.Reducer {
	case ReducerAppend:
		return append([]any{}, toList(c.Default)...)
	case ReducerSum:
		f, _ := toFloat(c.Default)
		return f
	default:
		return cloneValue(c.Default)
	}
}

// Get implements agent.StateReader.
func (s *State) Get(channel string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[channel]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Snapshot implements agent.StateReader.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Versions 返回每个通道被写入的次数
func (s *State) Versions() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.versions))
	for k, v := range s.versions {
		out[k] = v
	}
	return out
}

// Apply 经由各通道的 Reducer 合并一组更新。要么全部生效，要么全部不生效。
// 未声明的通道视为执行错误。
func (s *State) Apply(updates map[string]any) error {
	return s.ApplyAll([]map[string]any{updates})
}

// ApplyAll 按顺序合并多组更新（例如一个节点产生的全部 state_update 事件），
// 整体原子生效。
func (s *State) ApplyAll(batches []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]any)
	for _, updates := range batches {
		keys := make([]string, 0, len(updates))
		for k := range updates {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			r, ok := s.reducers[k]
			if !ok {
				return types.Errorf(types.ErrStateUpdate, "update targets undeclared channel %q", k)
			}
			cur, staged := next[k]
			if !staged {
				cur = s.values[k]
			}
			v, err := r(cur, updates[k])
			if err != nil {
				return types.Errorf(types.ErrStateUpdate, "channel %q", k).WithCause(err)
			}
			next[k] = v
		}
	}

	for k, v := range next {
		s.values[k] = v
		s.versions[k]++
	}
	return nil
}

// Restore 用检查点中的值替换当前状态；缺失的通道回到默认值
func (s *State) Restore(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := make(map[string]any, len(s.schema.Channels))
	for k := range values {
		if _, ok := s.reducers[k]; !ok {
			return types.Errorf(types.ErrCheckpointMismatch, "checkpoint carries undeclared channel %q", k)
		}
	}
	for _, c := range s.schema.Channels {
		v, ok := values[c.Name]
		if !ok {
			restored[c.Name] = s.defaultFor(c)
			continue
		}
		switch c.Reducer {
		case ReducerAppend:
			restored[c.Name] = append([]any{}, toList(v)...)
		case ReducerSum:
			f, err := toFloat(v)
			if err != nil {
				return types.Errorf(types.ErrCheckpointMismatch, "channel %q", c.Name).WithCause(err)
			}
			restored[c.Name] = f
		default:
			restored[c.Name] = cloneValue(v)
		}
	}
	s.values = restored
	return nil
}

// cloneValue 复制 map/切片，避免读者与驱动共享可变值
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
