package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/PromtiorLabs/chat_svc/internal/storage"
)

const (
	commandUseName              = "server"
	commandShortDescription     = "Run the chat service"
	commandLongDescription      = "Launch the marketing site, chat widget, backend API, and admin dashboard HTTP server"
	missingConfigurationMessage = "missing required configuration"

	flagNameApplicationAddress     = "app-addr"
	flagNameDatabaseDriverName     = "db-driver"
	flagNameDatabaseDataSourceName = "db-dsn"
	flagNameSessionSecret          = "session-secret"
	flagNameAdminBearerToken       = "admin-bearer-token"
	flagNameCompanyName            = "company-name"
	flagNameChatName               = "chat-name"
	flagNameAssistantURL           = "assistant-url"
	flagNameAssistantAPIKey        = "assistant-api-key"
	flagNameAssistantModel         = "assistant-model"
	flagNameChatBackendURL         = "chat-backend-url"
	flagNameDashboardBackendURL    = "dashboard-backend-url"
	flagNameRedisAddress           = "redis-addr"

	environmentKeyApplicationAddress  = "APP_ADDR"
	environmentKeyDatabaseDriver      = "DB_DRIVER"
	environmentKeyDatabaseDataSource  = "DB_DSN"
	environmentKeySessionSecret       = "SESSION_SECRET"
	environmentKeyAdminBearerToken    = "ADMIN_BEARER_TOKEN"
	environmentKeyCompanyName         = "COMPANY_NAME"
	environmentKeyChatName            = "CHAT_NAME"
	environmentKeyAssistantURL        = "ASSISTANT_URL"
	environmentKeyAssistantAPIKey     = "ASSISTANT_API_KEY"
	environmentKeyAssistantModel      = "ASSISTANT_MODEL"
	environmentKeyChatBackendURL      = "CHAT_BACKEND_URL"
	environmentKeyDashboardBackendURL = "DASHBOARD_BACKEND_URL"
	environmentKeyRedisAddress        = "REDIS_ADDR"

	defaultApplicationAddress = ":8080"
	defaultDatabaseDriver     = storage.DriverNameSQLite
	defaultDatabaseDataSource = "chat_svc.db"
	defaultCompanyName        = "Promtior"
	defaultChatName           = "Promtior AI Assistant"

	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
)

// ServerConfig captures the configuration needed to run the service.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriverName     string
	DatabaseDataSourceName string
	SessionSecret          string
	AdminBearerToken       string
	CompanyName            string
	ChatName               string
	AssistantURL           string
	AssistantAPIKey        string
	AssistantModel         string
	ChatBackendURL         string
	DashboardBackendURL    string
	RedisAddress           string
}

type configurationParameter struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
	required       bool
}

var configurationParameters = []configurationParameter{
	{environmentKeyApplicationAddress, flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on", false},
	{environmentKeyDatabaseDriver, flagNameDatabaseDriverName, defaultDatabaseDriver, "database driver name", false},
	{environmentKeyDatabaseDataSource, flagNameDatabaseDataSourceName, defaultDatabaseDataSource, "database connection string", false},
	{environmentKeySessionSecret, flagNameSessionSecret, "", "secret used to sign visitor session cookies", true},
	{environmentKeyAdminBearerToken, flagNameAdminBearerToken, "", "bearer token required for dashboard access", true},
	{environmentKeyCompanyName, flagNameCompanyName, defaultCompanyName, "company name shown across the site and chat", false},
	{environmentKeyChatName, flagNameChatName, defaultChatName, "display name of the chat assistant", false},
	{environmentKeyAssistantURL, flagNameAssistantURL, "", "base URL of the upstream inference service", false},
	{environmentKeyAssistantAPIKey, flagNameAssistantAPIKey, "", "API key for the upstream inference service", false},
	{environmentKeyAssistantModel, flagNameAssistantModel, "", "model identifier for the upstream inference service", false},
	{environmentKeyChatBackendURL, flagNameChatBackendURL, "", "base URL of a remote chat backend; empty serves chat in process", false},
	{environmentKeyDashboardBackendURL, flagNameDashboardBackendURL, "", "base URL the dashboard queries; empty targets this server", false},
	{environmentKeyRedisAddress, flagNameRedisAddress, "", "redis address for the shared dashboard cache; empty uses memory", false},
}

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      func(storage.Config) (databaseHandle, error)
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      openConfiguredDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener func(storage.Config) (databaseHandle, error)) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	for _, parameter := range configurationParameters {
		application.configurationLoader.SetDefault(parameter.environmentKey, parameter.defaultValue)
		commandFlags.String(parameter.flagName, parameter.defaultValue, parameter.usage)

		if bindErr := application.bindFlag(commandFlags, parameter.environmentKey, parameter.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, parameter.environmentKey, parameter.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}
	return application.configurationLoader.BindPFlag(environmentKey, flag)
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadConfiguration() ServerConfig {
	loader := application.configurationLoader
	return ServerConfig{
		ApplicationAddress:     strings.TrimSpace(loader.GetString(environmentKeyApplicationAddress)),
		DatabaseDriverName:     strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(loader.GetString(environmentKeyDatabaseDataSource)),
		SessionSecret:          strings.TrimSpace(loader.GetString(environmentKeySessionSecret)),
		AdminBearerToken:       strings.TrimSpace(loader.GetString(environmentKeyAdminBearerToken)),
		CompanyName:            strings.TrimSpace(loader.GetString(environmentKeyCompanyName)),
		ChatName:               strings.TrimSpace(loader.GetString(environmentKeyChatName)),
		AssistantURL:           strings.TrimSpace(loader.GetString(environmentKeyAssistantURL)),
		AssistantAPIKey:        strings.TrimSpace(loader.GetString(environmentKeyAssistantAPIKey)),
		AssistantModel:         strings.TrimSpace(loader.GetString(environmentKeyAssistantModel)),
		ChatBackendURL:         strings.TrimSpace(loader.GetString(environmentKeyChatBackendURL)),
		DashboardBackendURL:    strings.TrimSpace(loader.GetString(environmentKeyDashboardBackendURL)),
		RedisAddress:           strings.TrimSpace(loader.GetString(environmentKeyRedisAddress)),
	}
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := application.loadConfiguration()
	if validationErr := ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	return runServer(serverConfig, application.databaseOpener)
}

func ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.SessionSecret == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}
	if configuration.AdminBearerToken == "" {
		missingParameters = append(missingParameters, flagNameAdminBearerToken)
	}
	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSourceName)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
