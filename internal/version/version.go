// Package version reports the VCS revision fwemu was built from.
package version

import (
	"runtime/debug"
	"strings"
)

const repo = "https://github.com/fwemu/tools"

type revision struct {
	id       string
	modified bool
}

func read() (revision, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return revision{}, false
	}
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) (revision, bool) {
	settings := make(map[string]string)
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	// Built from a VCS checkout.
	if rev, ok := settings["vcs.revision"]; ok {
		return revision{id: rev, modified: settings["vcs.modified"] == "true"}, true
	}
	// Built as a module dependency: v0.0.0-20230107144322-7a5757f46310
	v := info.Main.Version
	if idx := strings.LastIndexByte(v, '-'); idx > -1 {
		return revision{id: v[idx+1:]}, true
	}
	return revision{}, false
}

func (r revision) long() string {
	s := repo + "/commit/" + r.id
	if r.modified {
		s += " (modified)"
	}
	return s
}

func (r revision) brief() string {
	id := r.id
	if len(id) > 6 {
		id = id[:6]
	}
	s := "g" + id
	if r.modified {
		s += "+"
	}
	return s
}

// Read returns a link to the commit fwemu was built from.
func Read() string {
	r, ok := read()
	if !ok {
		return "<unknown revision>"
	}
	return r.long()
}

// ReadBrief returns a short revision identifier for log output.
func ReadBrief() string {
	r, ok := read()
	if !ok {
		return "<unknown revision>"
	}
	return r.brief()
}
