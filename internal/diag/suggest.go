package diag

import "sort"

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	cur := make([]int, len(s2)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		cur[0] = i

		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}

			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}

		prev, cur = cur, prev
	}

	return prev[len(s2)]
}

// Suggest returns up to max known names within edit distance 3 of name,
// closest first.
func Suggest(name string, known []string, max int) []string {
	type suggestion struct {
		name     string
		distance int
	}

	var list []suggestion

	for _, k := range known {
		d := levenshteinDistance(name, k)
		if d <= 3 && d > 0 {
			list = append(list, suggestion{k, d})
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].distance == list[j].distance {
			return list[i].name < list[j].name
		}

		return list[i].distance < list[j].distance
	})

	r := make([]string, 0, max)
	for i := 0; i < len(list) && i < max; i++ {
		r = append(r, list[i].name)
	}

	return r
}
