// jwt.go provides JWT authentication middleware.
// This works alongside API key auth — staff log in through the web UI
// with a JWT, while service integrations use API keys.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/scrybe-hq/form-intake-api/internal/database"
	"github.com/scrybe-hq/form-intake-api/internal/models"
)

const userContextKey = "user"

// JWTClaims extends standard JWT claims with user info.
type JWTClaims struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new JWT token for a user.
func GenerateJWT(user *models.User, secret string) (string, error) {
	claims := JWTClaims{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(72 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseJWT validates and parses a JWT token string.
func ParseJWT(tokenString, secret string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// DualAuth returns middleware that accepts EITHER an API key OR a JWT
// token. Every protected route uses this — the two auth paths converge
// on GetOrgID/GetActorID so handlers don't care which one fired.
func DualAuth(db *database.DB, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try API key first
		rawKey := c.GetHeader("X-API-Key")
		if rawKey != "" {
			keyHash := HashAPIKey(rawKey)
			apiKey, err := db.GetAPIKeyByHash(c.Request.Context(), keyHash)
			if err == nil {
				c.Set(string(apiKeyContextKey), apiKey)
				go db.UpdateAPIKeyLastUsed(c.Request.Context(), apiKey.ID)
				c.Next()
				return
			}
		}

		// Try JWT token
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := ParseJWT(tokenString, jwtSecret)
			if err == nil {
				user, err := db.GetUserByID(c.Request.Context(), claims.UserID)
				if err == nil {
					c.Set(userContextKey, user)
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "Provide a valid X-API-Key header or Authorization: Bearer <token>",
			Code:    http.StatusUnauthorized,
		})
		c.Abort()
	}
}

// GetUser retrieves the authenticated user from the request context.
func GetUser(c *gin.Context) *models.User {
	val, exists := c.Get(userContextKey)
	if !exists {
		return nil
	}
	user, ok := val.(*models.User)
	if !ok {
		return nil
	}
	return user
}
