package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/esg-lite/emissions-pipeline/internal/quota"
	"github.com/esg-lite/emissions-pipeline/internal/service/ocr"
)

const identityKey = "identity"

// Identity resolves the caller from the gateway-injected headers. The
// upstream gateway owns authentication; this service only trusts its
// forwarded identity.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetHeader("X-User-ID"))
		if err != nil {
			unauthorized(c, "missing or malformed X-User-ID header")
			return
		}
		orgID, err := uuid.Parse(c.GetHeader("X-Org-ID"))
		if err != nil {
			unauthorized(c, "missing or malformed X-Org-ID header")
			return
		}

		tier := quota.Tier(strings.ToUpper(c.GetHeader("X-Org-Tier")))
		switch tier {
		case quota.TierFree, quota.TierPro, quota.TierEnterprise:
		case "":
			tier = quota.TierFree
		default:
			unauthorized(c, "unknown X-Org-Tier header")
			return
		}

		c.Set(identityKey, ocr.Identity{
			UserID:         userID,
			OrganizationID: orgID,
			Tier:           tier,
		})
		c.Next()
	}
}

// CallerIdentity reads the identity set by the Identity middleware.
func CallerIdentity(c *gin.Context) ocr.Identity {
	id, _ := c.Get(identityKey)
	ident, _ := id.(ocr.Identity)
	return ident
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"code": "UNAUTHORIZED", "message": message},
	})
}
