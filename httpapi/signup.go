package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fortressi/sellerhub/signup"
)

func signupHandler(s Signer, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signup.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		res, err := s.Signup(c.Request.Context(), req)
		if err != nil {
			var se *signup.Error
			if errors.As(err, &se) {
				c.JSON(se.Status, gin.H{"error": se.Message})
				return
			}
			logger.WithError(err).Error("signup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "userId": res.UserID})
	}
}
