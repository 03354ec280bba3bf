package httpapi

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PromtiorLabs/chat_svc/internal/client"
	"github.com/PromtiorLabs/chat_svc/internal/dashboard"
)

const (
	dashboardTemplateName      = "dashboard"
	dashboardHTMLContentType   = "text/html; charset=utf-8"
	errorValueBackendTimeout   = "backend_timeout"
	errorValueBackendFailed    = "backend_failed"
	errorValueMissingEmail     = "missing_email"
	logEventDashboardQuery     = "dashboard_query_failed"
	logEventDashboardRendering = "render_dashboard_page"
)

type dashboardTemplateData struct {
	CompanyName string
}

// DashboardPageHandlers renders the admin dashboard and serves its data
// endpoints through the retrying query layer.
type DashboardPageHandlers struct {
	queries     *dashboard.QueryService
	logger      *zap.Logger
	companyName string
	template    *template.Template
}

// NewDashboardPageHandlers constructs handlers over the given query service.
func NewDashboardPageHandlers(queries *dashboard.QueryService, companyName string, logger *zap.Logger) *DashboardPageHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiledTemplate := template.Must(template.New(dashboardTemplateName).Parse(dashboardTemplateHTML))
	return &DashboardPageHandlers{
		queries:     queries,
		logger:      logger,
		companyName: companyName,
		template:    compiledTemplate,
	}
}

// RenderDashboardPage writes the dashboard page response.
func (handlers *DashboardPageHandlers) RenderDashboardPage(context *gin.Context) {
	var buffer bytes.Buffer
	executeErr := handlers.template.Execute(&buffer, dashboardTemplateData{CompanyName: handlers.companyName})
	if executeErr != nil {
		handlers.logger.Error(logEventDashboardRendering, zap.Error(executeErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: "dashboard_render_failed"})
		return
	}
	context.Data(http.StatusOK, dashboardHTMLContentType, buffer.Bytes())
}

// DataListInteractions returns every interaction record.
func (handlers *DashboardPageHandlers) DataListInteractions(context *gin.Context) {
	records, listErr := handlers.queries.ListInteractions(context.Request.Context())
	if listErr != nil {
		handlers.respondQueryError(context, listErr)
		return
	}
	context.JSON(http.StatusOK, records)
}

// DataSearchInteractions returns records matching the name search term. A blank
// term yields an empty list without contacting the backend; the page falls back
// to the full list in that case.
func (handlers *DashboardPageHandlers) DataSearchInteractions(context *gin.Context) {
	records, searchErr := handlers.queries.SearchByName(context.Request.Context(), context.Query(searchTermQueryParameter))
	if searchErr != nil {
		handlers.respondQueryError(context, searchErr)
		return
	}
	context.JSON(http.StatusOK, records)
}

// DataInteractionsByEmail returns the record for one visitor email.
func (handlers *DashboardPageHandlers) DataInteractionsByEmail(context *gin.Context) {
	email := strings.TrimSpace(context.Param(conversationEmailParam))
	record, fetchErr := handlers.queries.InteractionsByEmail(context.Request.Context(), email)
	if fetchErr != nil {
		handlers.respondQueryError(context, fetchErr)
		return
	}
	context.JSON(http.StatusOK, record)
}

// respondQueryError maps query-layer failures onto dashboard responses. A
// timeout-class failure here means the retry budget is already spent; the page
// shows a manual retry control.
func (handlers *DashboardPageHandlers) respondQueryError(ginContext *gin.Context, queryErr error) {
	if errors.Is(queryErr, dashboard.ErrMissingQueryEmail) {
		ginContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingEmail})
		return
	}

	var statusErr *client.StatusError
	if errors.As(queryErr, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			ginContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueUnknownRecord})
			return
		}
		if statusErr.TimeoutClass() {
			ginContext.JSON(http.StatusGatewayTimeout, gin.H{jsonKeyError: errorValueBackendTimeout})
			return
		}
	}

	handlers.logger.Warn(logEventDashboardQuery, zap.Error(queryErr))
	ginContext.JSON(http.StatusBadGateway, gin.H{jsonKeyError: errorValueBackendFailed})
}
