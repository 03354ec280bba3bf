// Command configaudit validates the deployment configuration: it parses
// docker-compose.yml, resolves each service's environment from env_file
// entries and inline values, and verifies the chat service carries every
// required variable before anything ships.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	composeFileName = "docker-compose.yml"
	chatServiceName = "chat"
)

var errAuditFailed = errors.New("config_audit_failed")

var requiredChatEnvironmentKeys = []string{
	"SESSION_SECRET",
	"ADMIN_BEARER_TOKEN",
	"DB_DSN",
}

var recommendedChatEnvironmentKeys = []string{
	"APP_ADDR",
	"COMPANY_NAME",
	"CHAT_NAME",
	"ASSISTANT_MODEL",
	"ASSISTANT_API_KEY",
}

type stringList []string

func (list *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*list = nil
		return nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		value := strings.TrimSpace(node.Value)
		if value == "" {
			*list = nil
			return nil
		}
		*list = []string{value}
		return nil
	case yaml.SequenceNode:
		entries := make([]string, 0, len(node.Content))
		for _, child := range node.Content {
			if child == nil {
				continue
			}
			value := strings.TrimSpace(child.Value)
			if value == "" {
				continue
			}
			entries = append(entries, value)
		}
		*list = entries
		return nil
	default:
		return fmt.Errorf("unsupported yaml node kind %d for list", node.Kind)
	}
}

type environmentMap map[string]string

func (environment *environmentMap) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*environment = nil
		return nil
	}
	switch node.Kind {
	case yaml.MappingNode:
		decoded := make(map[string]string)
		if err := node.Decode(&decoded); err != nil {
			return err
		}
		normalized := make(map[string]string, len(decoded))
		for key, value := range decoded {
			normalized[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		*environment = normalized
		return nil
	case yaml.SequenceNode:
		decoded := make([]string, 0, len(node.Content))
		if err := node.Decode(&decoded); err != nil {
			return err
		}
		normalized := make(map[string]string)
		for _, entry := range decoded {
			trimmed := strings.TrimSpace(entry)
			if trimmed == "" {
				continue
			}
			key, value, ok := strings.Cut(trimmed, "=")
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if !ok {
				normalized[key] = ""
				continue
			}
			normalized[key] = strings.TrimSpace(value)
		}
		*environment = normalized
		return nil
	default:
		return fmt.Errorf("unsupported yaml node kind %d for environment", node.Kind)
	}
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	EnvFile     stringList     `yaml:"env_file"`
	Environment environmentMap `yaml:"environment"`
	Ports       stringList     `yaml:"ports"`
	Image       string         `yaml:"image"`
	Build       interface{}    `yaml:"build"`
	OtherKeys   map[string]any `yaml:",inline"`
}

type auditResult struct {
	errors   []string
	warnings []string
}

func (result *auditResult) addError(message string, arguments ...any) {
	result.errors = append(result.errors, fmt.Sprintf(message, arguments...))
}

func (result *auditResult) addWarning(message string, arguments ...any) {
	result.warnings = append(result.warnings, fmt.Sprintf(message, arguments...))
}

func (result auditResult) ok() bool {
	return len(result.errors) == 0
}

func main() {
	result := runAudit(composeFileName)
	sort.Strings(result.errors)
	sort.Strings(result.warnings)

	for _, warning := range result.warnings {
		_, _ = fmt.Fprintf(os.Stdout, "WARN: %s\n", warning)
	}
	for _, errorMessage := range result.errors {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %s\n", errorMessage)
	}
	if !result.ok() {
		_, _ = fmt.Fprintf(os.Stderr, "config-audit failed\n")
		os.Exit(1)
	}
	_, _ = fmt.Fprintf(os.Stdout, "config-audit OK\n")
}

func runAudit(composePath string) auditResult {
	var result auditResult

	composeDocument, readErr := os.ReadFile(composePath)
	if readErr != nil {
		result.addError("read compose file %s: %v", composePath, readErr)
		return result
	}

	var compose composeFile
	decoder := yaml.NewDecoder(strings.NewReader(string(composeDocument)))
	if decodeErr := decoder.Decode(&compose); decodeErr != nil {
		result.addError("parse compose file %s: %v", composePath, decodeErr)
		return result
	}
	if len(compose.Services) == 0 {
		result.addError("compose file %s: no services defined", composePath)
		return result
	}

	composeDirectory := filepath.Dir(composePath)
	hostPortToService := make(map[string]string)

	for serviceName, service := range compose.Services {
		env, envErr := loadServiceEnvironment(composeDirectory, serviceName, service.EnvFile, service.Environment, &result)
		if envErr != nil {
			result.addError("service %s: %v", serviceName, envErr)
			continue
		}

		if serviceName == chatServiceName {
			checkChatEnvironment(env, &result)
		}

		checkHostPortCollisions(serviceName, service.Ports, hostPortToService, &result)
	}

	if _, chatDefined := compose.Services[chatServiceName]; !chatDefined {
		result.addError("compose file %s: service %q is not defined", composePath, chatServiceName)
	}

	return result
}

func checkChatEnvironment(env map[string]string, result *auditResult) {
	for _, requiredKey := range requiredChatEnvironmentKeys {
		if strings.TrimSpace(env[requiredKey]) == "" {
			result.addError("service %s: required environment variable %s is missing or empty", chatServiceName, requiredKey)
		}
	}
	for _, recommendedKey := range recommendedChatEnvironmentKeys {
		if _, present := env[recommendedKey]; !present {
			result.addWarning("service %s: recommended environment variable %s is not set", chatServiceName, recommendedKey)
		}
	}
	if strings.TrimSpace(env["ASSISTANT_MODEL"]) != "" && strings.TrimSpace(env["ASSISTANT_API_KEY"]) == "" {
		result.addWarning("service %s: ASSISTANT_MODEL is set without ASSISTANT_API_KEY", chatServiceName)
	}
}

func loadServiceEnvironment(composeDirectory string, serviceName string, envFiles []string, environment environmentMap, result *auditResult) (map[string]string, error) {
	merged := make(map[string]string)

	for _, envFile := range envFiles {
		resolvedPath := filepath.Clean(filepath.Join(composeDirectory, envFile))
		if _, statErr := os.Stat(resolvedPath); statErr != nil {
			result.addError("service %s: env_file %s is missing (%v)", serviceName, envFile, statErr)
			continue
		}
		values, duplicates, parseErr := parseDotEnv(resolvedPath)
		if parseErr != nil {
			return nil, fmt.Errorf("parse env_file %s: %w", envFile, parseErr)
		}
		for _, duplicate := range duplicates {
			result.addError("service %s: env_file %s defines %s more than once", serviceName, envFile, duplicate)
		}
		for key, value := range values {
			merged[key] = value
		}
	}

	for key, value := range environment {
		if strings.TrimSpace(key) == "" {
			continue
		}
		merged[key] = value
	}

	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: no environment variables resolved", errAuditFailed)
	}

	return merged, nil
}

func parseDotEnv(path string) (map[string]string, []string, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, nil, openErr
	}
	defer func() { _ = file.Close() }()

	entries := make(map[string]string)
	seen := make(map[string]struct{})
	var duplicates []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, already := seen[key]; already {
			duplicates = append(duplicates, key)
		}
		seen[key] = struct{}{}
		entries[key] = value
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, nil, scanErr
	}

	sort.Strings(duplicates)
	return entries, duplicates, nil
}

func checkHostPortCollisions(serviceName string, ports []string, hostPortToService map[string]string, result *auditResult) {
	for _, portMapping := range ports {
		hostPort, _, found := strings.Cut(strings.TrimSpace(portMapping), ":")
		if !found || hostPort == "" {
			continue
		}
		if existingService, taken := hostPortToService[hostPort]; taken && existingService != serviceName {
			result.addError("service %s: host port %s already mapped by service %s", serviceName, hostPort, existingService)
			continue
		}
		hostPortToService[hostPort] = serviceName
	}
}
