package permissions

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ConfigCollection is where the modmail bot keeps its settings document.
const ConfigCollection = "config"

// botConfig is the subset of the bot's config document we read.
type botConfig struct {
	LevelPermissions bson.M `bson:"level_permissions"`
}

// LoadMapping reads the level_permissions of the bot's config document. A
// missing document yields an empty mapping.
func LoadMapping(ctx context.Context, db *mongo.Database, botID string) (Mapping, error) {
	id, err := strconv.ParseInt(botID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bot id %q: %w", botID, err)
	}
	var cfg botConfig
	err = db.Collection(ConfigCollection).FindOne(ctx, bson.D{{Key: "bot_id", Value: id}}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find bot config: %w", err)
	}
	return MappingFromDocument(cfg.LevelPermissions), nil
}

// MappingFromDocument converts a decoded level_permissions document. The bot
// stores ids as strings but some levels hold numbers (e.g. -1 for
// "everyone"); those are stringified. Unknown level names are ignored.
func MappingFromDocument(doc bson.M) Mapping {
	m := make(Mapping, len(doc))
	for name, raw := range doc {
		lvl, err := ParseLevel(name)
		if err != nil {
			continue
		}
		arr, ok := raw.(bson.A)
		if !ok {
			continue
		}
		ids := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := idString(v); ok {
				ids = append(ids, s)
			}
		}
		m[lvl] = ids
	}
	return m
}

func idString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}
