package tenancy

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/d9705996/modmail-viewer/internal/threads"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// defaultDatabase is the database the modmail bot uses when the connection
// string names none.
const defaultDatabase = "modmail_bot"

// botIDPattern is the bot_id pattern of the tenant schema.
var botIDPattern = regexp.MustCompile(`^[0-9]+$`)

// Config describes one tenant: a modmail bot, the guild it serves and where
// it keeps its data.
type Config struct {
	ID                   string `json:"id" yaml:"id"`
	Slug                 string `json:"slug" yaml:"slug"`
	Name                 string `json:"name,omitempty" yaml:"name,omitempty"`
	Title                string `json:"title,omitempty" yaml:"title,omitempty"`
	Description          string `json:"description,omitempty" yaml:"description,omitempty"`
	ConnectionURI        string `json:"connection_uri" yaml:"connection_uri"`
	GuildID              string `json:"guild_id" yaml:"guild_id"`
	BotID                string `json:"bot_id" yaml:"bot_id"`
	DatabaseName         string `json:"database_name,omitempty" yaml:"database_name,omitempty"`
	ThreadCollectionName string `json:"thread_collection_name,omitempty" yaml:"thread_collection_name,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.ThreadCollectionName == "" {
		c.ThreadCollectionName = threads.DefaultCollection
	}
}

// database returns the configured database, else the one named in the
// connection string, else the bot's default.
func (c *Config) database() string {
	if c.DatabaseName != "" {
		return c.DatabaseName
	}
	if u, err := url.Parse(c.ConnectionURI); err == nil {
		if db := strings.Trim(u.Path, "/"); db != "" {
			return db
		}
	}
	return defaultDatabase
}

// LoadFile reads a tenant document from path. JSON and YAML are both
// accepted.
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant file: %w", err)
	}
	cfgs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfgs, nil
}

// Parse validates a tenant document against the tenant schema, checks that
// ids and slugs are unique and applies defaults.
func Parse(data []byte) ([]Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tenant document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("tenant document is empty")
	}

	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate tenant document: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid tenant document: %s", strings.Join(msgs, "; "))
	}

	var cfgs []Config
	if err := yaml.Unmarshal(data, &cfgs); err != nil {
		return nil, fmt.Errorf("decode tenant document: %w", err)
	}

	ids := make(map[string]bool, len(cfgs))
	slugs := make(map[string]bool, len(cfgs))
	for i := range cfgs {
		c := &cfgs[i]
		if ids[c.ID] {
			return nil, fmt.Errorf("duplicate tenant id %q", c.ID)
		}
		if slugs[c.Slug] {
			return nil, fmt.Errorf("duplicate tenant slug %q", c.Slug)
		}
		ids[c.ID], slugs[c.Slug] = true, true
		c.applyDefaults()
	}
	return cfgs, nil
}

// SingleConfig is the implicit tenant used when no tenant document is
// configured.
func SingleConfig(mongoURI, database, guildID, botID string) Config {
	c := Config{
		ID:            "default",
		Slug:          "",
		ConnectionURI: mongoURI,
		GuildID:       guildID,
		BotID:         botID,
		DatabaseName:  database,
	}
	c.applyDefaults()
	return c
}
