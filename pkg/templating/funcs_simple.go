package templating

import (
	"reflect"
	"strings"
)

// startsWith reports whether value begins with prefix.
func startsWith(value, prefix string) bool {
	return strings.HasPrefix(value, prefix)
}

// pluginEnabled reports whether a plugin is registered under the given
// name ("wiki.plugins.attachments") or slug ("attachments").
func (tm *TemplateManager) pluginEnabled(name string) bool {
	return tm.services.Plugins.Enabled(name)
}

// wikiSettings returns the named wiki setting, or "" for unknown names.
func (tm *TemplateManager) wikiSettings(name string) any {
	if v, ok := tm.services.Settings.Lookup(name); ok {
		return v
	}
	return ""
}

// inc returns i + 1.
func inc(i int) int {
	return i + 1
}

// isSet returns true if a value is not its zero value.
func isSet(val any) bool {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		return false
	}
	return !v.IsZero()
}
