package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/types"
)

func ExtractActor(c *gin.Context) (types.Actor, bool) {
	actorID := c.GetString("actorID") // From JWT middleware
	if actorID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Caller not authenticated"})
		return types.Actor{}, false
	}
	id, err := uuid.Parse(actorID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unable to parse actor id"})
		return types.Actor{}, false
	}

	actorType := types.ActorType(c.GetString("actorType"))
	if actorType == "" {
		actorType = types.ActorUser
	}
	return types.Actor{ID: id, Type: actorType}, true
}
