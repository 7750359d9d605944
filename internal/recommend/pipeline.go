// Package recommend implements the degradation pipeline that composes the
// user-profile and content circuit breakers with a terminal trending
// fallback, so a caller always receives a useful response or a clean 503.
package recommend

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calebmurr/recgate/internal/circuitbreaker"
	"github.com/calebmurr/recgate/internal/metrics"
	"github.com/calebmurr/recgate/internal/upstream"
)

// Upstream labels used for caller logs and metrics. The user-profile and
// content labels are also reported in fallback_triggered_for; trending is not.
const (
	UserProfileService = "user-profile-service"
	ContentService     = "content-service"
	TrendingService    = "trending-service"
)

// Caller-layer deadlines per upstream. The breaker's request timeout is a
// stricter inner bound; whichever fires first ends the attempt.
const (
	userProfileDeadline = 3 * time.Second
	contentDeadline     = 3 * time.Second
	trendingDeadline    = 5 * time.Second
)

const degradedMessage = "Our recommendation service is temporarily degraded. Here are some trending movies."

const unavailableMessage = "All services are currently unavailable. Please try again shortly."

// defaultPreferences substitutes for the user's genres when the profile
// service is unavailable.
var defaultPreferences = []string{"Comedy", "Family"}

// Movie is a catalog entry as served by the content and trending services.
type Movie struct {
	MovieID int    `json:"movieId"`
	Title   string `json:"title"`
	Genre   string `json:"genre"`
}

// Preferences is the user-profile response shape.
type Preferences struct {
	UserID      string   `json:"userId"`
	Preferences []string `json:"preferences"`
}

type moviesResponse struct {
	Movies []Movie `json:"movies"`
}

type trendingResponse struct {
	Trending []Movie `json:"trending"`
}

// Response is the normal recommendation payload.
type Response struct {
	UserPreferences      Preferences `json:"userPreferences"`
	Recommendations      []Movie     `json:"recommendations"`
	FallbackTriggeredFor string      `json:"fallback_triggered_for,omitempty"`
}

// TrendingFallback is served when the content result is absent but trending
// is reachable.
type TrendingFallback struct {
	Message              string  `json:"message"`
	Trending             []Movie `json:"trending"`
	FallbackTriggeredFor string  `json:"fallback_triggered_for"`
}

// Unavailable is the 503 payload when every fallback is exhausted.
type Unavailable struct {
	Error                string `json:"error"`
	FallbackTriggeredFor string `json:"fallback_triggered_for"`
}

// Endpoints holds the upstream base URLs.
type Endpoints struct {
	UserProfileURL string
	ContentURL     string
	TrendingURL    string
}

// Pipeline orchestrates the two breakers and the trending fallback.
// Stateless per request; safe for concurrent use.
type Pipeline struct {
	caller    *upstream.Caller
	profileCB *circuitbreaker.Breaker
	contentCB *circuitbreaker.Breaker
	endpoints Endpoints
	logger    *slog.Logger
}

// New creates a Pipeline over the given caller and breakers.
func New(caller *upstream.Caller, profileCB, contentCB *circuitbreaker.Breaker, endpoints Endpoints, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		caller:    caller,
		profileCB: profileCB,
		contentCB: contentCB,
		endpoints: endpoints,
		logger:    logger,
	}
}

// Recommend composes a recommendation for userID, falling back per upstream:
// default preferences when the profile call fails, trending when the content
// call fails, and a 503 when trending fails too. It returns the HTTP status
// and the response body to serialize.
func (p *Pipeline) Recommend(ctx context.Context, userID string) (int, any) {
	var fallbacks []string

	prefs, err := circuitbreaker.Execute(ctx, p.profileCB, func(ctx context.Context) (Preferences, error) {
		var out Preferences
		callURL := p.endpoints.UserProfileURL + "/users/" + url.PathEscape(userID)
		err := p.caller.GetJSON(ctx, UserProfileService, callURL, userProfileDeadline, &out)
		return out, err
	})
	if err != nil {
		p.logger.Warn("user profile unavailable, using default preferences",
			"user_id", userID,
			"error", err,
		)
		metrics.FallbacksTotal.WithLabelValues(UserProfileService).Inc()
		prefs = Preferences{
			UserID:      userID,
			Preferences: append([]string(nil), defaultPreferences...),
		}
		fallbacks = append(fallbacks, UserProfileService)
	}

	query := url.Values{"genres": {strings.Join(prefs.Preferences, ",")}}
	moviesURL := p.endpoints.ContentURL + "/movies?" + query.Encode()

	movies, err := circuitbreaker.Execute(ctx, p.contentCB, func(ctx context.Context) ([]Movie, error) {
		var out moviesResponse
		err := p.caller.GetJSON(ctx, ContentService, moviesURL, contentDeadline, &out)
		return out.Movies, err
	})
	if err == nil {
		if movies == nil {
			movies = []Movie{}
		}
		return http.StatusOK, Response{
			UserPreferences:      prefs,
			Recommendations:      movies,
			FallbackTriggeredFor: strings.Join(fallbacks, ", "),
		}
	}

	p.logger.Warn("content unavailable, falling back to trending",
		"user_id", userID,
		"error", err,
	)
	metrics.FallbacksTotal.WithLabelValues(ContentService).Inc()
	fallbacks = append(fallbacks, ContentService)

	// Terminal fallback: trending goes out without a breaker.
	var tr trendingResponse
	trendingURL := p.endpoints.TrendingURL + "/trending"
	if err := p.caller.GetJSON(ctx, TrendingService, trendingURL, trendingDeadline, &tr); err != nil {
		p.logger.Error("all upstreams unavailable",
			"user_id", userID,
			"error", err,
		)
		return http.StatusServiceUnavailable, Unavailable{
			Error:                unavailableMessage,
			FallbackTriggeredFor: strings.Join(fallbacks, ", "),
		}
	}

	if tr.Trending == nil {
		tr.Trending = []Movie{}
	}
	return http.StatusOK, TrendingFallback{
		Message:              degradedMessage,
		Trending:             tr.Trending,
		FallbackTriggeredFor: strings.Join(fallbacks, ", "),
	}
}
