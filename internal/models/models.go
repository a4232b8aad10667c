// Package models declares the schema catalog for the prediction engine's
// custom objects and model factories bound to them. RegisterAll is called
// once at startup; the catalog is static for the process lifetime.
package models

import (
	"github.com/0ndata/crmbridge/internal/bridge"
	"github.com/0ndata/crmbridge/internal/orm"
	"github.com/0ndata/crmbridge/internal/schema"
)

// Schema keys for all managed record types.
const (
	KeyPredictions     = "predictions"
	KeyPredictionStats = "prediction_stats"
	KeyUnlocks         = "jax_unlocks"
	KeySentences       = "jax_sentences"
	KeySocialStats     = "jax_social_stats"
	KeyConfig          = "jax_config"
)

// RegisterAll populates a registry with every schema definition.
func RegisterAll(reg *schema.Registry) {
	reg.Register(schema.Definition{
		Key:         KeyPredictions,
		Name:        "Predictions",
		Description: "JAX crypto price predictions",
		Fields: []schema.Field{
			{Key: "coin", Name: "Coin", DataType: schema.TypeText, Required: true},
			{Key: "direction", Name: "Direction", DataType: schema.TypeText, Required: true},
			{Key: "confidence", Name: "Confidence", DataType: schema.TypeNumber},
			{Key: "models_used", Name: "Models Used", DataType: schema.TypeText},
			{Key: "entry_price", Name: "Entry Price", DataType: schema.TypeNumber},
			{Key: "target_price", Name: "Target Price", DataType: schema.TypeNumber},
			{Key: "result", Name: "Result", DataType: schema.TypeText},
			{Key: "verified_at", Name: "Verified At", DataType: schema.TypeDate},
			{Key: "cycle_number", Name: "Cycle Number", DataType: schema.TypeNumber},
		},
	})

	reg.Register(schema.Definition{
		Key:         KeyPredictionStats,
		Name:        "Prediction Stats",
		Description: "Daily aggregated prediction statistics",
		Fields: []schema.Field{
			{Key: "date", Name: "Date", DataType: schema.TypeDate, Required: true},
			{Key: "win_rate", Name: "Win Rate", DataType: schema.TypeNumber},
			{Key: "total_predictions", Name: "Total Predictions", DataType: schema.TypeNumber},
			{Key: "wins", Name: "Wins", DataType: schema.TypeNumber},
			{Key: "losses", Name: "Losses", DataType: schema.TypeNumber},
			{Key: "streak", Name: "Streak", DataType: schema.TypeNumber},
			{Key: "interval_minutes", Name: "Interval Minutes", DataType: schema.TypeNumber},
		},
	})

	reg.Register(schema.Definition{
		Key:         KeyUnlocks,
		Name:        "JAX Unlocks",
		Description: "Earned JAX unlock records",
		Fields: []schema.Field{
			{Key: "unlock_id", Name: "Unlock ID", DataType: schema.TypeText, Required: true},
			{Key: "unlocked_at", Name: "Unlocked At", DataType: schema.TypeDate},
			{Key: "triggered_by", Name: "Triggered By", DataType: schema.TypeText},
			{Key: "notification_sent", Name: "Notification Sent", DataType: schema.TypeBoolean},
		},
	})

	reg.Register(schema.Definition{
		Key:         KeySentences,
		Name:        "JAX Sentences",
		Description: "JAX generated sentences and narratives",
		Fields: []schema.Field{
			{Key: "text", Name: "Text", DataType: schema.TypeText, Required: true},
			{Key: "cycle_number", Name: "Cycle Number", DataType: schema.TypeNumber},
			{Key: "models_used", Name: "Models Used", DataType: schema.TypeText},
			{Key: "emotion", Name: "Emotion", DataType: schema.TypeText},
			{Key: "context", Name: "Context", DataType: schema.TypeText},
		},
	})

	reg.Register(schema.Definition{
		Key:         KeySocialStats,
		Name:        "JAX Social Stats",
		Description: "Daily social media metrics",
		Fields: []schema.Field{
			{Key: "date", Name: "Date", DataType: schema.TypeDate, Required: true},
			{Key: "followers", Name: "Followers", DataType: schema.TypeNumber},
			{Key: "total_likes", Name: "Total Likes", DataType: schema.TypeNumber},
			{Key: "total_retweets", Name: "Total Retweets", DataType: schema.TypeNumber},
		},
	})

	reg.Register(schema.Definition{
		Key:         KeyConfig,
		Name:        "JAX Config",
		Description: "Per-tenant JAX engine configuration",
		Fields: []schema.Field{
			{Key: "config_key", Name: "Config Key", DataType: schema.TypeText, Required: true},
			{Key: "prediction_interval", Name: "Prediction Interval", DataType: schema.TypeNumber},
			{Key: "enabled_coins", Name: "Enabled Coins", DataType: schema.TypeText},
			{Key: "enabled_features", Name: "Enabled Features", DataType: schema.TypeText},
			{Key: "active_models", Name: "Active Models", DataType: schema.TypeText},
			{Key: "autonomous_mode", Name: "Autonomous Mode", DataType: schema.TypeText},
		},
	})
}

// Model factories. Each binds the bridge client to one schema key and tenant.

func Prediction(c *bridge.Client, tenantID string) *orm.Model {
	return orm.NewModel(c, KeyPredictions, tenantID)
}

func PredictionStats(c *bridge.Client, tenantID string) *orm.Model {
	return orm.NewModel(c, KeyPredictionStats, tenantID)
}

func Unlock(c *bridge.Client, tenantID string) *orm.Model {
	return orm.NewModel(c, KeyUnlocks, tenantID)
}

func Sentence(c *bridge.Client, tenantID string) *orm.Model {
	return orm.NewModel(c, KeySentences, tenantID)
}

func SocialStats(c *bridge.Client, tenantID string) *orm.Model {
	return orm.NewModel(c, KeySocialStats, tenantID)
}

func Config(c *bridge.Client, tenantID string) *orm.Model {
	return orm.NewModel(c, KeyConfig, tenantID)
}
