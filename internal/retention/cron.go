package retention

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ParseCron validates a 5-field cron expression or a @-macro such as
// @daily or @every 12h. It returns an error when the expression cannot
// be scheduled.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	// Macros and @every are handled by ParseStandard.
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(e)
	return err
}
