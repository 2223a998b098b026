package incidents

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// newTrackingID returns an id of the form INC-20240314-1A2B3C4D.
func newTrackingID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "INC-" + now.UTC().Format("20060102") + "-" + suffix
}
