// Package permissions maps Discord users and roles onto the modmail bot's
// permission levels.
package permissions

import (
	"encoding/json"
	"fmt"
)

// Level is an ordinal permission tier. Higher values grant more access.
type Level int

const (
	Anyone Level = iota
	Regular
	Supporter
	Moderator
	Administrator
	Owner
)

var levelNames = [...]string{"ANYONE", "REGULAR", "SUPPORTER", "MODERATOR", "ADMINISTRATOR", "OWNER"}

// String returns the bot's name for the level.
func (l Level) String() string {
	if l < Anyone || l > Owner {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel is the inverse of String.
func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if n == s {
			return Level(i), nil
		}
	}
	return Anyone, fmt.Errorf("unknown permission level %q", s)
}

// AtLeast reports whether l grants everything min does.
func (l Level) AtLeast(min Level) bool { return l >= min }

// MarshalJSON encodes the level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Mapping assigns user and role ids to each level.
type Mapping map[Level][]string

// descending is the order non-owner levels are tried in.
var descending = []Level{Administrator, Moderator, Supporter, Regular, Anyone}

// Resolve returns the highest level userID qualifies for, either directly or
// through one of roles. OWNER is granted by user id only. A user matching
// nothing is ANYONE.
func Resolve(m Mapping, userID string, roles []string) Level {
	if contains(m[Owner], userID) {
		return Owner
	}
	for _, lvl := range descending {
		ids := m[lvl]
		if len(ids) == 0 {
			continue
		}
		if contains(ids, userID) {
			return lvl
		}
		for _, r := range roles {
			if contains(ids, r) {
				return lvl
			}
		}
	}
	return Anyone
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
