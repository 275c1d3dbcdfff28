package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gmliao/landnet/pkg/errors"
)

// ParseToken validates a JWT and extracts the AuthenticatedInfo the land
// runtime consumes. Claims: sub -> player id, device_id -> device id,
// metadata -> free-form map.
func ParseToken(tokenStr, secret string) (*AuthenticatedInfo, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.Wrap(errors.ErrInvalidToken, "jwt parse")
	}
	info := &AuthenticatedInfo{
		PlayerID:  toString(claims["sub"]),
		DeviceID:  toString(claims["device_id"]),
		IssuedAt:  toTime(claims["iat"]),
		ExpiresAt: toTime(claims["exp"]),
		RawClaims: claims,
	}
	if meta, ok := claims["metadata"].(map[string]interface{}); ok {
		info.Metadata = meta
	}
	if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
		return nil, errors.ErrTokenExpired
	}
	return info, nil
}

// TokenFromHeaders pulls a bearer token out of the WebSocket handshake.
// Supports "jwt <token>" entries in Sec-WebSocket-Protocol and a standard
// Authorization header.
func TokenFromHeaders(protocolHeader, authorizationHeader string) string {
	if protocolHeader != "" {
		for _, part := range strings.Split(protocolHeader, ",") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "jwt ") {
				return strings.TrimPrefix(part, "jwt ")
			}
			if len(part) > 20 && !strings.Contains(part, " ") {
				// Heuristic: treat a long single token as the credential.
				return part
			}
		}
	}
	return strings.TrimPrefix(authorizationHeader, "Bearer ")
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toTime(v interface{}) time.Time {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0)
	case int64:
		return time.Unix(t, 0)
	}
	return time.Time{}
}
