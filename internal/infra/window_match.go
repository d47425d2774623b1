package infra

import (
	"strings"

	"github.com/pavkata12/client8/internal/domain"
)

// MatchWindow reports whether a top-level window with the given class and
// title is targeted by one of the window rules. Class comparison is exact;
// keywords match case-insensitively anywhere in the title.
func MatchWindow(rules []domain.ProcessRule, class, title string) bool {
	lowerTitle := strings.ToLower(title)
	for _, r := range rules {
		if !r.IsWindowRule() || r.WindowClass != class {
			continue
		}
		if len(r.TitleKeywords) == 0 {
			return true
		}
		for _, kw := range r.TitleKeywords {
			if strings.Contains(lowerTitle, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}
