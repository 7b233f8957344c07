package models

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const parentsPrefix = "Parents:"

var parentsLine = regexp.MustCompile(`^Parents:\s*#\d+(\s*,\s*#\d+)*\s*$`)

// ParseBody splits an issue body into the user-visible description and the
// parent issue numbers listed on its trailing "Parents:" line
func ParseBody(body string) (string, []int) {
	trimmed := strings.TrimRight(body, " \t\r\n")
	idx := strings.LastIndex(trimmed, "\n")
	last := trimmed[idx+1:]
	if !parentsLine.MatchString(strings.TrimSpace(last)) {
		return body, nil
	}

	var parents []int
	for _, ref := range strings.Split(strings.TrimPrefix(strings.TrimSpace(last), parentsPrefix), ",") {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(ref), "#"))
		if err != nil {
			continue
		}
		if !slices.Contains(parents, n) {
			parents = append(parents, n)
		}
	}

	desc := ""
	if idx >= 0 {
		desc = strings.TrimRight(trimmed[:idx], " \t\r\n")
	}
	return desc, parents
}

// BuildBody joins a description and parent list into the wire body
func BuildBody(description string, parents []int) string {
	if len(parents) == 0 {
		return description
	}
	refs := make([]string, len(parents))
	for i, p := range parents {
		refs[i] = fmt.Sprintf("#%d", p)
	}
	line := parentsPrefix + " " + strings.Join(refs, ", ")
	desc := strings.TrimRight(description, " \t\r\n")
	if desc == "" {
		return line
	}
	return desc + "\n\n" + line
}
