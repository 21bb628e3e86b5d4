package uci

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLocation is returned when a location names a more specific part
// without the less specific one (e.g. an option without a section).
var ErrInvalidLocation = errors.New("uci: invalid location")

// Location builds a `pkg[.section[.option]]` path.
func Location(pkg, section, option string) (string, error) {
	if pkg == "" && (section != "" || option != "") {
		return "", fmt.Errorf("%w: section or option without package", ErrInvalidLocation)
	}
	if section == "" && option != "" {
		return "", fmt.Errorf("%w: option %q without section", ErrInvalidLocation, option)
	}
	parts := []string{pkg}
	if section != "" {
		parts = append(parts, section)
	}
	if option != "" {
		parts = append(parts, option)
	}
	return strings.Join(parts, "."), nil
}

// Loc is Location for callers that build paths from trusted parts.
// Empty trailing parts are dropped.
func Loc(pkg, section, option string) string {
	loc, err := Location(pkg, section, option)
	if err != nil {
		return pkg
	}
	return loc
}

// ShowCmd returns `uci show <loc>`.
func ShowCmd(loc string) string {
	return "uci show " + loc
}

// GetCmd returns `uci get <loc>`.
func GetCmd(loc string) string {
	return "uci get " + loc
}

// GetOrCmd returns a get command that prints fallback instead of failing when
// the entry is missing.
func GetOrCmd(loc, fallback string) string {
	return fmt.Sprintf("uci get %s 2>/dev/null || echo %q", loc, fallback)
}

// SetCmd returns `uci set <loc>='<value>'`.
func SetCmd(loc, value string) string {
	return "uci set " + loc + "=" + Quote(value)
}

// DeclareCmd returns `uci set <pkg>.<id>=<type>`, which creates a section.
func DeclareCmd(pkg, id, typ string) string {
	return "uci set " + pkg + "." + id + "=" + typ
}

// AddListCmd returns `uci add_list <loc>='<value>'`.
func AddListCmd(loc, value string) string {
	return "uci add_list " + loc + "=" + Quote(value)
}

// DelCmd returns `uci del <loc>`, used to clear a list before add_list.
func DelCmd(loc string) string {
	return "uci del " + loc
}

// DeleteCmd returns `uci delete <loc>`.
func DeleteCmd(loc string) string {
	return "uci delete " + loc
}

// CommitCmd returns `uci commit <pkg>`.
func CommitCmd(pkg string) string {
	return "uci commit " + pkg
}

// ServiceCmd returns `/etc/init.d/<name> <action>`.
func ServiceCmd(name, action string) string {
	return "/etc/init.d/" + name + " " + action
}

// ProcessGrepCmd returns `ps | grep <name>`.
func ProcessGrepCmd(name string) string {
	return "ps | grep " + name
}
