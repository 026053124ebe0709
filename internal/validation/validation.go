// Package validation provides request checks and the shared error
// responder for the TiltCheck HTTP API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/logging"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	// Discord snowflakes, wallet addresses and opaque handles all fit.
	userIDRegex     = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,128}$`)
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUserID checks a user identifier.
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// SanitizeString trims, strips null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// Validate runs validators and returns the first failure.
func Validate(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Required checks if a field is non-empty
func Required(field, value string) func() error {
	return func() error {
		if strings.TrimSpace(value) == "" {
			return apperr.Invalid(field, "is required")
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() error {
	return func() error {
		if len(value) > max {
			return apperr.Invalid(field, "exceeds maximum length of %d", max)
		}
		return nil
	}
}

// ValidUserID checks a user ID field. Empty values pass; pair with Required.
func ValidUserID(field, value string) func() error {
	return func() error {
		if value != "" && !IsValidUserID(value) {
			return apperr.Invalid(field, "must be 1-128 characters of letters, digits or _.:@-")
		}
		return nil
	}
}

// ParseAmount parses a money amount. positive requires > 0, otherwise >= 0.
func ParseAmount(field, value string, positive bool) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, apperr.Invalid(field, "is required")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, apperr.Invalid(field, "invalid amount format")
	}
	switch {
	case positive && !d.IsPositive():
		return decimal.Zero, apperr.Invalid(field, "must be greater than zero")
	case d.IsNegative():
		return decimal.Zero, apperr.Invalid(field, "must not be negative")
	}
	return d, nil
}

// UserIDParamMiddleware rejects malformed :userId URL parameters and tags
// the request context with the user for logging.
func UserIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("userId")
		if id == "" {
			c.Next()
			return
		}
		if !IsValidUserID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, apperr.Response{
				Error:   "invalid_user_id",
				Message: "userId must be 1-128 characters of letters, digits or _.:@-",
				Field:   "userId",
			})
			return
		}
		c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), id))
		c.Next()
	}
}

// BindJSON decodes the request body into v and writes a 400 on failure.
// It reports whether the handler should continue.
func BindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, apperr.Response{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
		return false
	}
	return true
}

// WriteError maps err through apperr and writes the JSON response.
// Server-side failures are logged with the request context.
func WriteError(c *gin.Context, err error) {
	status, body := apperr.HTTP(err)
	if status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, body)
}
