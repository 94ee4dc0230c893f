package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.pilab.hu/linksync/domain"
	apierrors "go.pilab.hu/linksync/errors"
	"go.pilab.hu/linksync/log"
	"go.pilab.hu/linksync/services"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the services the ops API drives.
type Deps struct {
	Agencies    *services.AgencyService
	Links       *services.ConnectionLinkService
	Results     *services.ConnectionResultService
	AgencyMerge *services.AgencyMergeService
	LinkMerge   *services.ConnectionLinkMergeService
	Gatherer    prometheus.Gatherer
	Health      HealthCheck
	Logger      log.Logger
}

// OpsAPI serves health, metrics and administrative reconciliation endpoints.
type OpsAPI struct {
	deps   Deps
	logger log.Logger
}

// NewOpsAPI creates the API.
func NewOpsAPI(deps Deps) *OpsAPI {
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &OpsAPI{deps: deps, logger: logger.With(map[string]interface{}{"component": "ops_api"})}
}

// NewEcho builds an echo instance with the API's routes and middleware.
func NewEcho(api *OpsAPI) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(api.requestLogger)
	api.RegisterRoutes(e)
	return e
}

// NewHTTPServer wraps handler in an http.Server listening on addr.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// RegisterRoutes registers every route on e.
func (a *OpsAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1")
	v1.POST("/users/:userID/merge", a.MergeUserAgenciesHandler)
	v1.POST("/links/merge", a.MergeLinksHandler)
	v1.GET("/agencies/:agencyID", a.GetAgencyHandler)
	v1.GET("/agencies/:agencyID/links", a.ListLinksHandler)
	v1.GET("/agencies/:agencyID/links/default/:type", a.DefaultLinkHandler)
	v1.POST("/agencies/:agencyID/default-access-link/refresh", a.RefreshSnapshotHandler)
	v1.GET("/agencies/:agencyID/results", a.ListResultsHandler)
	v1.POST("/links/:linkID/default", a.SetDefaultHandler)
	v1.DELETE("/links/:linkID", a.DeleteLinkHandler)
}

func (a *OpsAPI) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		fields := map[string]interface{}{
			"method":  c.Request().Method,
			"path":    c.Path(),
			"status":  c.Response().Status,
			"latency": time.Since(start).String(),
		}
		if err != nil {
			a.logger.Error(c.Request().Context(), "HTTP Request", err, fields)
		} else {
			a.logger.Debug(c.Request().Context(), "HTTP Request", fields)
		}
		return nil
	}
}

func (a *OpsAPI) fail(c echo.Context, err error) error {
	status, body := apierrors.FromDomain(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(c.Request().Context(), "Request failed", err, map[string]interface{}{"path": c.Path()})
	}
	return c.JSON(status, body)
}

// HealthHandler reports ok, or 503 when the health check fails.
func (a *OpsAPI) HealthHandler(c echo.Context) error {
	if a.deps.Health != nil {
		if err := a.deps.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// MergeResponse is returned by the merge endpoints.
type MergeResponse struct {
	Merged bool                        `json:"merged"`
	Agency *services.AgencyMergeResult `json:"agency,omitempty"`
	Links  *services.LinkMergeResult   `json:"links,omitempty"`
}

// MergeUserAgenciesHandler runs the agency merge for one user.
func (a *OpsAPI) MergeUserAgenciesHandler(c echo.Context) error {
	res, err := a.deps.AgencyMerge.MergeByUserID(c.Request().Context(), c.Param("userID"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, MergeResponse{Merged: res != nil, Agency: res})
}

// MergeLinksRequest is the body of MergeLinksHandler.
type MergeLinksRequest struct {
	AgencyIDs      []string `json:"agency_ids"`
	TargetAgencyID string   `json:"target_agency_id"`
}

// MergeLinksHandler re-runs the connection-link merge, e.g. after a partial merge.
func (a *OpsAPI) MergeLinksHandler(c echo.Context) error {
	var req MergeLinksRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("malformed request body"))
	}
	res, err := a.deps.LinkMerge.Merge(c.Request().Context(), req.AgencyIDs, req.TargetAgencyID)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, MergeResponse{Merged: res != nil, Links: res})
}

// GetAgencyHandler returns one agency.
func (a *OpsAPI) GetAgencyHandler(c echo.Context) error {
	agency, err := a.deps.Agencies.GetAgency(c.Request().Context(), c.Param("agencyID"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, agency)
}

// ListLinksHandler lists an agency's links, optionally by ?type= and ?default=.
func (a *OpsAPI) ListLinksHandler(c echo.Context) error {
	filter := domain.ConnectionLinkFilter{AgencyIDs: []string{c.Param("agencyID")}}
	if t := c.QueryParam("type"); t != "" {
		accessType, err := domain.ParseAccessType(t)
		if err != nil {
			return a.fail(c, err)
		}
		filter.Type = accessType
	}
	if d := c.QueryParam("default"); d != "" {
		isDefault, err := strconv.ParseBool(d)
		if err != nil {
			return c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("default must be a boolean"))
		}
		filter.IsDefault = &isDefault
	}
	links, err := a.deps.Links.ListConnectionLinks(c.Request().Context(), filter)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, links)
}

// DefaultLinkHandler returns the default link of an agency for an access type.
func (a *OpsAPI) DefaultLinkHandler(c echo.Context) error {
	accessType, err := domain.ParseAccessType(c.Param("type"))
	if err != nil {
		return a.fail(c, err)
	}
	link, err := a.deps.Links.FindDefaultConnectionLink(c.Request().Context(), c.Param("agencyID"), accessType)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, link)
}

// RefreshSnapshotHandler recomputes the agency's default access link snapshot.
func (a *OpsAPI) RefreshSnapshotHandler(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("agencyID")
	if err := a.deps.Links.RefreshDefaultAccessLink(ctx, id); err != nil {
		return a.fail(c, err)
	}
	agency, err := a.deps.Agencies.GetAgency(ctx, id)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, agency)
}

// ResultsPage is the body of ListResultsHandler.
type ResultsPage struct {
	Items    []*domain.ConnectionResult `json:"items"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

// ListResultsHandler pages through an agency's connection results.
func (a *OpsAPI) ListResultsHandler(c echo.Context) error {
	opts := domain.ListOptions{SortBy: c.QueryParam("sort_by")}
	opts.Page, _ = strconv.Atoi(c.QueryParam("page"))
	opts.PageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	opts.SortDesc, _ = strconv.ParseBool(c.QueryParam("desc"))
	opts = opts.Normalize()

	filter := domain.ConnectionResultFilter{
		AgencyID:         c.Param("agencyID"),
		ConnectionLinkID: c.QueryParam("link_id"),
	}
	items, total, err := a.deps.Results.ListConnectionResults(c.Request().Context(), filter, opts)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, ResultsPage{Items: items, Total: total, Page: opts.Page, PageSize: opts.PageSize})
}

// SetDefaultHandler promotes a link to default.
func (a *OpsAPI) SetDefaultHandler(c echo.Context) error {
	link, err := a.deps.Links.SetAsDefault(c.Request().Context(), c.Param("linkID"))
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(http.StatusOK, link)
}

// DeleteLinkHandler deletes a non-default link.
func (a *OpsAPI) DeleteLinkHandler(c echo.Context) error {
	if err := a.deps.Links.DeleteConnectionLink(c.Request().Context(), c.Param("linkID")); err != nil {
		return a.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
