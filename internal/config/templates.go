package config

import (
	"fmt"
	"os"
)

func Template() string {
	return sessionTemplate
}

// WriteTemplate writes a starter config file.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(sessionTemplate), 0o600)
}

const sessionTemplate = `# steploop session config; flags given on the command line win.
steps = 300
mode = "full"
timeout = "3s"
session_timeout = "120s"
max_rss_kb = 700000
launch_order = "before"
idle_after_steps = "0s"

# Leave program empty to build the sample loop target.
program = ""
source = ""
break_line = 0
program_args = []

variables_count = 0
variables_filter = ""
max_scope_loads = 0
prefer_scope = ""
include_registers = false
locals_via_evaluate = false
ignore_variables_errors = false
inspect_first_stop = false
stop_on_entry = false

adapter = ["gdb", "--interpreter=dap", "-q"]
status_addr = ""
report = ""
metrics_file = ""
`
