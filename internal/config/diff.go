package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	RuntimeChanged bool
	NewRuntime     RuntimeConfig

	CoordinatorChanged bool
	NewCoordinator     CoordinatorConfig

	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	LogChanged bool
	NewLog     LogConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.RuntimeChanged ||
		d.CoordinatorChanged ||
		d.SchedulerChanged ||
		d.LogChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Runtime.RequestTimeout != new.Runtime.RequestTimeout {
		d.RuntimeChanged = true
		d.NewRuntime = new.Runtime
	}
	if old.Coordinator != new.Coordinator {
		d.CoordinatorChanged = true
		d.NewCoordinator = new.Coordinator
	}
	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}
	if old.Log != new.Log {
		d.LogChanged = true
		d.NewLog = new.Log
	}

	nonReloadable := []struct {
		name    string
		changed bool
	}{
		{"nats.port", old.NATS.Port != new.NATS.Port},
		{"nats.data_dir", old.NATS.DataDir != new.NATS.DataDir},
		{"nats.compress_threshold", old.NATS.CompressThreshold != new.NATS.CompressThreshold},
		{"store.path", old.Store.Path != new.Store.Path},
		{"runtime.mailbox_size", old.Runtime.MailboxSize != new.Runtime.MailboxSize},
		{"web.enabled", old.Web.Enabled != new.Web.Enabled},
		{"web.port", old.Web.Port != new.Web.Port},
		{"web.auth", old.Web.Auth != new.Web.Auth},
		{"vault.passphrase", old.Vault.Passphrase != new.Vault.Passphrase},
		{"components", !reflect.DeepEqual(old.Components, new.Components)},
		{"connections", !reflect.DeepEqual(old.Connections, new.Connections)},
	}
	for _, f := range nonReloadable {
		if f.changed {
			d.NonReloadable = append(d.NonReloadable, f.name)
		}
	}

	return d
}
