package workspace

import (
	"fmt"
	"time"
)

// containerName composes the base container name of spec §4.3 step 4:
// "<project>-<identity>-<YYYYMMDD>". Uniqueness suffixing against the
// live engine happens inside the orchestrator backend (ensureUniqueName).
func containerName(project, identity string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", project, identity, now.Format("20060102"))
}
