package resolution

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/odm"
	"github.com/ehr/ocbridge/internal/platform/auth"
	"github.com/ehr/ocbridge/pkg/pagination"
)

// Views renders named templates over a resolved document.
type Views interface {
	Render(w io.Writer, name string, data any) error
	Clear()
}

// View is the data handed to a template.
type View struct {
	XML    string
	Result *Result
}

// Response headers describing a run.
const (
	HeaderMode      = "X-Resolution-Mode"
	HeaderCreated   = "X-Subjects-Created"
	HeaderScheduled = "X-Events-Scheduled"
	HeaderRunStatus = "X-Resolution-Status"
)

type Handler struct {
	svc   *Service
	views Views

	// runs share the service's study directory
	mu sync.Mutex
}

func NewHandler(svc *Service, views Views) *Handler {
	return &Handler{svc: svc, views: views}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	resolver := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleResolver))
	resolver.POST("/odm/resolve", h.Resolve)
	resolver.GET("/studies", h.ListStudies)
	resolver.GET("/runs", h.ListRuns)
	resolver.GET("/runs/:id", h.GetRun)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/cache", h.ClearCache)
}

// Resolve reconciles the ODM document in the request body and returns the
// rewritten document. Query parameters: extraclean=true strips annotations
// and placeholders in lightweight mode too, import=true submits the result
// to the remote data import, template=<name> renders the result through a
// named template.
func (h *Handler) Resolve(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	doc, err := odm.Parse(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	meta := RunMeta{Source: "api", RequestID: c.Response().Header().Get(echo.HeaderXRequestID)}

	h.mu.Lock()
	h.svc.ClearCache()
	res, err := h.svc.ResolveWithMeta(ctx, doc, meta)
	h.mu.Unlock()

	var importErr error
	if err == nil {
		if c.QueryParam("extraclean") == "true" {
			res.Cleaned += odm.Clean(doc)
		}
		if c.QueryParam("import") == "true" {
			importErr = h.svc.Import(ctx, doc)
		}
	}

	// Past the deadline the timeout middleware has answered already and the
	// response must not be touched.
	if cerr := ctx.Err(); cerr != nil {
		return httpError(cerr)
	}

	hdr := c.Response().Header()
	hdr.Set(HeaderMode, string(res.Mode))
	if err != nil {
		hdr.Set(HeaderRunStatus, RunFailed)
		return httpError(err)
	}
	hdr.Set(HeaderRunStatus, RunSucceeded)
	hdr.Set(HeaderCreated, strconv.Itoa(len(res.Created)))
	hdr.Set(HeaderScheduled, strconv.Itoa(len(res.Scheduled)))
	if importErr != nil {
		return httpError(importErr)
	}

	out, err := doc.Bytes()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if name := c.QueryParam("template"); name != "" {
		if h.views == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "templates are not configured")
		}
		var buf bytes.Buffer
		if err := h.views.Render(&buf, name, View{XML: string(out), Result: res}); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, buf.Bytes())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, out)
}

func (h *Handler) ListStudies(c echo.Context) error {
	listing, err := h.svc.ListStudies(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, listing)
}

// ClearCache drops cached templates and studies.
func (h *Handler) ClearCache(c echo.Context) error {
	h.mu.Lock()
	h.svc.ClearCache()
	h.mu.Unlock()
	if h.views != nil {
		h.views.Clear()
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListRuns(c echo.Context) error {
	runs := h.svc.Runs()
	if runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run journal not configured")
	}
	pg := pagination.FromContext(c)
	items, total, err := runs.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetRun(c echo.Context) error {
	runs := h.svc.Runs()
	if runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run journal not configured")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	run, err := runs.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "resolution run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// httpError maps resolution failures onto status codes: malformed input is
// the caller's fault, unknown studies, subjects and events make the
// document unprocessable, and remote failures are upstream errors.
func httpError(err error) *echo.HTTPError {
	var remote *study.RemoteError
	switch {
	case errors.Is(err, odm.ErrDocument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, study.ErrNotFound):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &remote):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
