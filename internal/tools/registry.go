// Package tools 定义 Agent 可调用的工具目录及其执行器。
//
// 同一份 JSON Schema 既用于向模型声明参数，也用于执行前的参数校验。
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/L7Shift/l7shift-website-sub000/internal/llm"
)

const schemaBaseURL = "https://eventagent.local/tools/"

// Definition 描述一个工具的名称、用途与输入参数 Schema。
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Registry 保存不可变的工具目录。
type Registry struct {
	defs    []Definition
	index   map[string]int
	schemas map[string]*jsonschema.Schema
}

// NewRegistry 编译每个工具的 Schema。目录是静态的，重复名称或非法 Schema 属于编程错误，直接 panic。
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{
		defs:    make([]Definition, 0, len(defs)),
		index:   make(map[string]int, len(defs)),
		schemas: make(map[string]*jsonschema.Schema, len(defs)),
	}
	compiler := jsonschema.NewCompiler()
	for _, def := range defs {
		if def.Name == "" {
			panic("tools: definition without name")
		}
		if _, dup := r.index[def.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", def.Name))
		}
		doc, err := normalize(def.InputSchema)
		if err != nil {
			panic(fmt.Sprintf("tools: schema of %q: %v", def.Name, err))
		}
		url := schemaBaseURL + def.Name + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			panic(fmt.Sprintf("tools: schema of %q: %v", def.Name, err))
		}
		r.schemas[def.Name] = compiler.MustCompile(url)
		r.index[def.Name] = len(r.defs)
		r.defs = append(r.defs, def)
	}
	return r
}

// Definitions 按目录顺序返回全部工具定义。
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names 返回工具名称列表。
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, def := range r.defs {
		names[i] = def.Name
	}
	return names
}

// Lookup 根据名称查找工具定义。
func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Validate 使用工具的 Schema 校验调用参数。
func (r *Registry) Validate(name string, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	inst, err := normalize(args)
	if err != nil {
		return err
	}
	if err := schema.Validate(inst); err != nil {
		return flattenValidation(err)
	}
	return nil
}

// Specs 将目录转换为模型可识别的工具声明。
func (r *Registry) Specs() []llm.Tool {
	specs := make([]llm.Tool, len(r.defs))
	for i, def := range r.defs {
		specs[i] = llm.Tool{Name: def.Name, Description: def.Description, InputSchema: def.InputSchema}
	}
	return specs
}

// normalize round-trips v through JSON so numbers arrive as json.Number.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

func flattenValidation(err error) error {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	parts := make([]string, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if i == 0 && strings.HasPrefix(line, "jsonschema validation failed") && len(lines) > 1 {
			continue
		}
		if line != "" {
			parts = append(parts, line)
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
