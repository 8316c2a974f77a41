package health

import (
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	for _, err := range []error{ErrCheckFailed, ErrCheckTimeout, ErrCheckerNotFound, ErrPushDown} {
		if !strings.HasPrefix(err.Error(), "health: ") {
			t.Errorf("%q should carry the package prefix", err)
		}
	}
}
