package cost

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/metrics"
)

// ModelPricing holds USD prices per million tokens.
type ModelPricing struct {
	Input       float64 `yaml:"input"`
	CachedInput float64 `yaml:"cached_input"`
	Output      float64 `yaml:"output"`
}

var defaultPricing = map[string]ModelPricing{
	"gpt-4o-2024-08-06":      {Input: 2.50, CachedInput: 1.25, Output: 10.00},
	"gpt-4o-mini-2024-07-18": {Input: 0.15, CachedInput: 0.075, Output: 0.60},
	"gpt-4-turbo-2024-04-09": {Input: 10.00, CachedInput: 10.00, Output: 30.00},
	"gpt-4-0613":             {Input: 30.00, CachedInput: 30.00, Output: 60.00},
	"gpt-3.5-turbo-0125":     {Input: 0.50, CachedInput: 0.50, Output: 1.50},
}

type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
}

func NewCalculator() *Calculator {
	pricing := make(map[string]ModelPricing, len(defaultPricing))
	for model, p := range defaultPricing {
		pricing[model] = p
	}
	return &Calculator{
		pricing: pricing,
	}
}

// Calculate prices usage for the exact model identifier the provider reported.
// Unknown models cost nothing.
func (c *Calculator) Calculate(model string, usage domain.Usage) float64 {
	c.mu.RLock()
	pricing, ok := c.pricing[model]
	c.mu.RUnlock()
	if !ok {
		slog.Warn("no pricing for model, cost recorded as zero", "model", model)
		metrics.RecordUnpricedModel(model)
		return 0
	}

	uncached := float64(usage.PromptTokens - usage.CachedTokens)
	total := uncached*pricing.Input +
		float64(usage.CachedTokens)*pricing.CachedInput +
		float64(usage.CompletionTokens)*pricing.Output

	return math.Round(total/1_000_000*1e6) / 1e6
}

func (c *Calculator) SetPricing(model string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[model] = pricing
}

func (c *Calculator) Pricing(model string) (ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pricing[model]
	return p, ok
}

type pricingFile struct {
	Models map[string]ModelPricing `yaml:"models"`
}

// LoadPricingFile merges the models listed in a YAML price table over the
// built-in one.
//
//	models:
//	  gpt-4o-mini-2024-07-18:
//	    input: 0.15
//	    cached_input: 0.075
//	    output: 0.60
func (c *Calculator) LoadPricingFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pricing file: %w", err)
	}

	var f pricingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse pricing file: %w", err)
	}

	for model, p := range f.Models {
		c.SetPricing(model, p)
	}

	slog.Info("pricing table loaded", "path", path, "models", len(f.Models))
	return nil
}
