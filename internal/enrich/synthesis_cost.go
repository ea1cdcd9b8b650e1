package enrich

import (
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/pkg/anthropic"
)

// narrativePricing is USD per million tokens: {input, output}.
var narrativePricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// Cache writes cost 1.25x input, cache reads 0.1x.
const (
	cacheWriteFactor = 1.25
	cacheReadFactor  = 0.1
)

// narrativeCost estimates the USD cost of one narrative call. Unknown models
// cost 0.
func narrativeCost(modelID string, u anthropic.Usage) float64 {
	price, ok := narrativePricing[modelID]
	if !ok {
		return 0
	}
	in := float64(u.Input) + float64(u.CacheWrite)*cacheWriteFactor + float64(u.CacheRead)*cacheReadFactor
	return (in*price[0] + float64(u.Output)*price[1]) / 1e6
}

func logNarrativeCost(entityID, modelID string, u anthropic.Usage, cost float64) {
	zap.L().Info("synthesis: narrative cost",
		zap.String("entity", entityID),
		zap.String("model", modelID),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", cost),
	)
}
