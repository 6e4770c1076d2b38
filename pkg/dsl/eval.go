package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/feedrank/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("item", cel.DynType),
		cel.Variable("label", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Program 是编译后的候选物品表达式，使用 CEL (Common Expression Language)。
// 编译一次，可在多个请求、多个 goroutine 中复用。
//
// 表达式语法（CEL 标准语法）：
//   - 字段：item.id / item.title / item.group / item.topic / item.provenance
//   - 数值：item.score > 0.7 / item.age_hours > 720.0
//   - 标签：label.recall_source == "semantic"
//   - 请求：rctx.user_id == "u1" / rctx.params.region == "eu"
//   - 逻辑：item.topic == "shorts" && item.score < 0.2
//
// 示例：
//   - `item.topic in ["shorts", "live"]` → 排除短视频与直播
//   - `item.group == "spam_channel"` → 屏蔽频道
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 解析并编译表达式，表达式必须返回 bool。
func Compile(expr string) (*Program, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %v", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %v", err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (p *Program) String() string { return p.expr }

// Eval 对单个候选执行表达式，返回布尔结果。
func (p *Program) Eval(c *core.ScoredCandidate, rctx *core.RankContext) (bool, error) {
	out, _, err := p.prg.Eval(buildInput(c, rctx))
	if err != nil {
		// 对于不存在的 key，CEL 会返回错误
		// 用户应该使用 label.key != null 或 has() 来检查存在性
		return false, fmt.Errorf("eval error: %v", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// buildInput 构建 CEL 表达式的输入数据
func buildInput(c *core.ScoredCandidate, rctx *core.RankContext) map[string]any {
	labels := make(map[string]any, len(c.Labels))
	for k, v := range c.Labels {
		labels[k] = v.Value
	}

	var now = c.Item.PublishedAt
	var userID string
	var params map[string]any
	if rctx != nil {
		now = rctx.Now
		userID = rctx.UserID
		params = rctx.Params
	}
	if params == nil {
		params = map[string]any{}
	}

	ageHours := 0.0
	if !c.Item.PublishedAt.IsZero() && now.After(c.Item.PublishedAt) {
		ageHours = now.Sub(c.Item.PublishedAt).Hours()
	}

	item := map[string]any{
		"id":         c.Item.ID,
		"title":      c.Item.Title,
		"group":      c.Item.Group,
		"topic":      c.Item.Topic,
		"provenance": string(c.Item.Provenance),
		"score":      c.Score,
		"age_hours":  ageHours,
	}

	return map[string]any{
		"item":  item,
		"label": labels,
		"rctx": map[string]any{
			"user_id": userID,
			"params":  params,
		},
	}
}
