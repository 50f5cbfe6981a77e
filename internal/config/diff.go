package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LLMDefaultsChanged bool

	MCPServersChanged bool
	MCPServerChanges  []MCPServerDiff
}

// MCPServerDiff describes what changed for a single MCP server entry
// between two configs.
type MCPServerDiff struct {
	Name             string
	TransportChanged bool
	CommandChanged   bool
	URLChanged       bool
	Added            bool
	Removed          bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: the server
// log level, the session LLM policy defaults, and the configured MCP tool
// servers. Provider and session-limit changes require a restart and are
// not tracked here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldDefaults, newDefaults := old.Session.LLMDefaults, new.Session.LLMDefaults
	if oldDefaults.Kind != newDefaults.Kind ||
		oldDefaults.CloudProvider != newDefaults.CloudProvider ||
		oldDefaults.Model != newDefaults.Model ||
		oldDefaults.Endpoint != newDefaults.Endpoint {
		d.LLMDefaultsChanged = true
	}

	oldServers := make(map[string]*MCPServerConfig, len(old.MCP.Servers))
	for i := range old.MCP.Servers {
		oldServers[old.MCP.Servers[i].Name] = &old.MCP.Servers[i]
	}
	newServers := make(map[string]*MCPServerConfig, len(new.MCP.Servers))
	for i := range new.MCP.Servers {
		newServers[new.MCP.Servers[i].Name] = &new.MCP.Servers[i]
	}

	for name, oldSrv := range oldServers {
		newSrv, exists := newServers[name]
		if !exists {
			d.MCPServerChanges = append(d.MCPServerChanges, MCPServerDiff{Name: name, Removed: true})
			d.MCPServersChanged = true
			continue
		}
		sd := diffMCPServer(name, oldSrv, newSrv)
		if sd.TransportChanged || sd.CommandChanged || sd.URLChanged {
			d.MCPServerChanges = append(d.MCPServerChanges, sd)
			d.MCPServersChanged = true
		}
	}

	for name := range newServers {
		if _, exists := oldServers[name]; !exists {
			d.MCPServerChanges = append(d.MCPServerChanges, MCPServerDiff{Name: name, Added: true})
			d.MCPServersChanged = true
		}
	}

	return d
}

// diffMCPServer compares two MCP server configs with the same name.
func diffMCPServer(name string, old, new *MCPServerConfig) MCPServerDiff {
	sd := MCPServerDiff{Name: name}

	if old.Transport != new.Transport {
		sd.TransportChanged = true
	}
	if old.Command != new.Command {
		sd.CommandChanged = true
	}
	if old.URL != new.URL {
		sd.URLChanged = true
	}

	return sd
}
