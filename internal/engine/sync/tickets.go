package sync

import "regexp"

// ticketRefPattern matches tracker keys like PROJ-42 in commit messages
// and pull request titles/bodies.
var ticketRefPattern = regexp.MustCompile(`[A-Z][A-Z0-9]+-\d+`)

// ExtractTicketRefs returns the distinct tracker keys found across the
// given texts, in first-seen order.
func ExtractTicketRefs(texts ...string) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, text := range texts {
		for _, ref := range ticketRefPattern.FindAllString(text, -1) {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs
}
