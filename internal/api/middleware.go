package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "finance-orchestrator/internal/common/errors"
	"finance-orchestrator/internal/common/metrics"
)

const (
	headerCorrelationID  = "X-Correlation-ID"
	headerUserID         = "X-User-ID"
	headerProcessingTime = "X-Processing-Time-Ms"

	anonymousUser = "anonymous"
)

type ctxKey int

const (
	ctxCorrelationID ctxKey = iota
	ctxUserID
	ctxRole
)

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxCorrelationID).(string)
	return id
}

func userID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxUserID).(string); ok && id != "" {
		return id
	}
	return anonymousUser
}

func role(ctx context.Context) string {
	r, _ := ctx.Value(ctxRole).(string)
	return r
}

// statusWriter stamps the processing time header just before the status
// line goes out and remembers the status for the access log.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	stamp       func() string
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.Header().Set(headerProcessingTime, w.stamp())
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// requestContext assigns the correlation id and caller identity, and
// records timing for every request.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()

		corrID := strings.TrimSpace(r.Header.Get(headerCorrelationID))
		if corrID == "" {
			corrID = uuid.New().String()
		}
		w.Header().Set(headerCorrelationID, corrID)

		ctx := context.WithValue(r.Context(), ctxCorrelationID, corrID)
		if uid := strings.TrimSpace(r.Header.Get(headerUserID)); uid != "" {
			ctx = context.WithValue(ctx, ctxUserID, uid)
		}

		sw := &statusWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
			stamp: func() string {
				return strconv.FormatInt(s.now().Sub(start).Milliseconds(), 10)
			},
		}
		next.ServeHTTP(sw, r.WithContext(ctx))

		s.logger.Info("http request", map[string]interface{}{
			"method":        r.Method,
			"path":          r.URL.Path,
			"status":        sw.status,
			"durationMs":    s.now().Sub(start).Milliseconds(),
			"userId":        userID(ctx),
			"correlationId": corrID,
		})
	})
}

// authenticate requires a valid HS256 bearer token when auth is enabled and
// takes the caller's identity and role from its claims.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.Security.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			s.writeError(w, r, apperrors.NewUnauthorizedError("missing bearer token"))
			return
		}

		claims, err := s.parseToken(strings.TrimSpace(tokenString))
		if err != nil {
			s.logger.Warn("rejected bearer token", map[string]interface{}{
				"correlationId": correlationID(r.Context()),
				"error":         err.Error(),
			})
			s.writeError(w, r, apperrors.NewUnauthorizedError("invalid token"))
			return
		}

		subject, _ := claims.GetSubject()
		if subject == "" {
			subject = claimString(claims, "user_id")
		}
		ctx := r.Context()
		if subject != "" {
			ctx = context.WithValue(ctx, ctxUserID, subject)
		}
		ctx = context.WithValue(ctx, ctxRole, claimString(claims, "role"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) parseToken(tokenString string) (jwt.MapClaims, error) {
	secret := []byte(s.deps.Security.JWTSecret)
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// limit applies the named sliding-window rule per caller.
func (s *Server) limit(ruleName string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter == nil {
			next(w, r)
			return
		}

		rule := s.deps.Rules.Get(ruleName)
		decision, err := s.deps.Limiter.Allow(r.Context(), userID(r.Context()), rule)
		if err != nil {
			s.logger.Warn("rate limiter error, allowing request", map[string]interface{}{
				"rule":  rule.Name,
				"error": err.Error(),
			})
			next(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			metrics.RateLimitRejections.WithLabelValues(rule.Name).Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(decision.RetryAfter.Seconds()))))
			s.logger.Warn("rate limit exceeded", map[string]interface{}{
				"rule":          rule.Name,
				"userId":        userID(r.Context()),
				"correlationId": correlationID(r.Context()),
			})
			s.writeError(w, r, apperrors.NewRateLimitedError(decision.RetryAfter))
			return
		}
		next(w, r)
	})
}
