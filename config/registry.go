package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/feedrank/core"
	"github.com/rushteam/feedrank/pipeline"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/feedrank/config/builders"
// 以触发内置 Node（recall.merge、filter、rank.recency、rank.two_stage、rerank.mmr、rerank.topn）的 init 注册。

// NodeBuilder 根据依赖与 node config 构建 Node。
// 各组件在 init 中调用 Register(typeName, builder) 即可被配置驱动。
type NodeBuilder func(deps *Deps, cfg map[string]interface{}) (pipeline.Node, error)

var (
	defaultBuilders   = make(map[string]NodeBuilder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种 Node 的构建逻辑，供 Factory 与配置驱动使用。
// 建议在各组件的 init 中调用，例如：func init() { config.Register("rerank.mmr", BuildMMRNode) }
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SupportedTypes 返回当前已注册的 Node 类型列表（排序），用于错误提示与校验。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Factory 返回绑定了 deps 的 NodeFactory，包含所有通过 Register 注册的 Node 类型。
func Factory(deps *Deps) *pipeline.NodeFactory {
	if deps == nil {
		deps = &Deps{}
	}
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	f := pipeline.NewNodeFactory()
	for typeName, builder := range defaultBuilders {
		b := builder
		f.Register(typeName, func(cfg map[string]interface{}) (pipeline.Node, error) {
			return b(deps, cfg)
		})
	}
	return f
}

// ValidatePipelineConfig 校验 pipeline 配置中所有 node 类型均已注册；若有未支持类型则返回包含已支持列表的错误。
func ValidatePipelineConfig(cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	supported := SupportedTypes()
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	for _, nc := range cfg.Pipeline.Nodes {
		if _, ok := defaultBuilders[nc.Type]; !ok {
			return fmt.Errorf("%w: unsupported node type %q (supported: %v)", core.ErrInvalidConfig, nc.Type, supported)
		}
	}
	return nil
}
