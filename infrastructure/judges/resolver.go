package judges

import (
	"fmt"
	"sync"

	"github.com/ahrav/go-rubric/internal/ports"
)

// ClientSource hands out LLM clients by judge identifier. *llm.Registry
// satisfies it.
type ClientSource interface {
	GetClient(spec string) (ports.LLMClient, error)
}

// NewLLMResolver returns a resolver that builds one LLMJudge per model on
// top of clients from source. Judges are cached; every judge shares config
// and opts.
func NewLLMResolver(source ClientSource, config JudgeConfig, opts ...JudgeOption) ports.JudgeResolver {
	var (
		mu    sync.Mutex
		cache = make(map[string]ports.Judge)
	)

	return func(model string) (ports.Judge, error) {
		mu.Lock()
		defer mu.Unlock()

		if judge, ok := cache[model]; ok {
			return judge, nil
		}

		client, err := source.GetClient(model)
		if err != nil {
			return nil, err
		}
		judge, err := NewLLMJudge(model, client, config, opts...)
		if err != nil {
			return nil, err
		}
		cache[model] = judge
		return judge, nil
	}
}

// StaticResolver resolves from a fixed set of judges keyed by model.
func StaticResolver(judges ...ports.Judge) ports.JudgeResolver {
	byModel := make(map[string]ports.Judge, len(judges))
	for _, j := range judges {
		byModel[j.Model()] = j
	}
	return func(model string) (ports.Judge, error) {
		judge, ok := byModel[model]
		if !ok {
			return nil, fmt.Errorf("no judge registered for %q", model)
		}
		return judge, nil
	}
}
