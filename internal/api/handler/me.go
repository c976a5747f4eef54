package handler

import (
	"net/http"

	"github.com/d9705996/modmail-viewer/internal/api/jsonapi"
	"github.com/d9705996/modmail-viewer/internal/api/middleware"
)

type userAttrs struct {
	Username      string  `json:"username"`
	GlobalName    *string `json:"global_name,omitempty"`
	DisplayName   string  `json:"display_name"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar,omitempty"`
	GuildCount    int     `json:"guild_count"`
}

// Me handles GET /api/v1/me.
func Me(w http.ResponseWriter, r *http.Request) {
	c := middleware.CallerFrom(r.Context())
	if c == nil {
		middleware.Fail(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "users",
		ID:   c.User.ID,
		Attributes: userAttrs{
			Username:      c.User.Username,
			GlobalName:    c.User.GlobalName,
			DisplayName:   c.User.DisplayName(),
			Discriminator: c.User.Discriminator,
			Avatar:        c.User.Avatar,
			GuildCount:    len(c.Guilds),
		},
	})
}
