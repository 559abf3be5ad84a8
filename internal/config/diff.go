package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider, store,
// and server changes require a restart.
type ConfigDiff struct {
	RegionsChanged  bool         // true if any region was added, removed, or modified
	RegionChanges   []RegionDiff // per-region diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
	ChainsChanged   bool // true if pipeline.chain_languages changed
	PluginsChanged  bool // true if the plugin master switch flipped
}

// RegionDiff describes what changed for a single region between two configs.
type RegionDiff struct {
	Name             string
	AreaChanged      bool
	LanguagesChanged bool
	PriorityChanged  bool
	CadenceChanged   bool
	Added            bool
	Removed          bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Chain languages
	if !equalChains(old.Pipeline.ChainLanguages, new.Pipeline.ChainLanguages) {
		d.ChainsChanged = true
	}

	// Plugin master switch
	if old.Plugins.MasterSwitchOn() != new.Plugins.MasterSwitchOn() {
		d.PluginsChanged = true
	}

	// Build region lookup maps keyed by name.
	oldRegions := make(map[string]*RegionConfig, len(old.Regions))
	for i := range old.Regions {
		oldRegions[old.Regions[i].Name] = &old.Regions[i]
	}
	newRegions := make(map[string]*RegionConfig, len(new.Regions))
	for i := range new.Regions {
		newRegions[new.Regions[i].Name] = &new.Regions[i]
	}

	// Detect modified and removed regions.
	for name, oldRegion := range oldRegions {
		newRegion, exists := newRegions[name]
		if !exists {
			d.RegionChanges = append(d.RegionChanges, RegionDiff{
				Name:    name,
				Removed: true,
			})
			d.RegionsChanged = true
			continue
		}
		rd := diffRegion(name, oldRegion, newRegion)
		if rd.AreaChanged || rd.LanguagesChanged || rd.PriorityChanged || rd.CadenceChanged {
			d.RegionChanges = append(d.RegionChanges, rd)
			d.RegionsChanged = true
		}
	}

	// Detect added regions.
	for name := range newRegions {
		if _, exists := oldRegions[name]; !exists {
			d.RegionChanges = append(d.RegionChanges, RegionDiff{
				Name:  name,
				Added: true,
			})
			d.RegionsChanged = true
		}
	}

	return d
}

// diffRegion compares two region configs with the same name.
func diffRegion(name string, old, new *RegionConfig) RegionDiff {
	rd := RegionDiff{Name: name}

	if old.Region() != new.Region() {
		rd.AreaChanged = true
	}
	if old.SourceLang != new.SourceLang || old.TargetLang != new.TargetLang {
		rd.LanguagesChanged = true
	}
	if old.Priority != new.Priority {
		rd.PriorityChanged = true
	}
	if old.TickInterval != new.TickInterval {
		rd.CadenceChanged = true
	}

	return rd
}

func equalChains(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
