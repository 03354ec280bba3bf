package httpapi

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	landingTemplateName      = "landing"
	landingHTMLContentType   = "text/html; charset=utf-8"
	widgetJSContentType      = "application/javascript; charset=utf-8"
	logEventLandingRendering = "render_landing_page"
	logEventWidgetRendering  = "render_widget_script"
)

type landingTemplateData struct {
	CompanyName string
	ChatName    string
}

type widgetScriptData struct {
	CompanyName string
	ChatName    string
}

// PublicPageHandlers renders the marketing landing page and the embeddable
// widget script.
type PublicPageHandlers struct {
	logger          *zap.Logger
	companyName     string
	chatName        string
	landingTemplate *template.Template
}

// NewPublicPageHandlers constructs handlers for the public pages.
func NewPublicPageHandlers(companyName string, chatName string, logger *zap.Logger) *PublicPageHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiledTemplate := template.Must(template.New(landingTemplateName).Parse(landingTemplateHTML))
	return &PublicPageHandlers{
		logger:          logger,
		companyName:     companyName,
		chatName:        chatName,
		landingTemplate: compiledTemplate,
	}
}

// RenderLandingPage writes the landing page response.
func (handlers *PublicPageHandlers) RenderLandingPage(context *gin.Context) {
	data := landingTemplateData{
		CompanyName: handlers.companyName,
		ChatName:    handlers.chatName,
	}

	var buffer bytes.Buffer
	executeErr := handlers.landingTemplate.Execute(&buffer, data)
	if executeErr != nil {
		handlers.logger.Error(logEventLandingRendering, zap.Error(executeErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: "landing_render_failed"})
		return
	}
	context.Data(http.StatusOK, landingHTMLContentType, buffer.Bytes())
}

// WidgetJS renders the widget script with the configured company and chat names.
func (handlers *PublicPageHandlers) WidgetJS(context *gin.Context) {
	data := widgetScriptData{
		CompanyName: handlers.companyName,
		ChatName:    handlers.chatName,
	}

	var buffer bytes.Buffer
	executeErr := widgetJavaScriptTemplate.Execute(&buffer, data)
	if executeErr != nil {
		handlers.logger.Error(logEventWidgetRendering, zap.Error(executeErr))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: "widget_render_failed"})
		return
	}
	context.Data(http.StatusOK, widgetJSContentType, buffer.Bytes())
}
