package combine

type match struct {
	a int
	b int
}

// lcs returns the index pairs of a longest common subsequence of a and b,
// in increasing order. Empty tokens never match.
func lcs(a, b []string) []match {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}

	// dp[i][j] is the LCS length of a[i:] and b[j:].
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] != "" && a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	matches := make([]match, 0, dp[0][0])
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case a[i] != "" && a[i] == b[j]:
			matches = append(matches, match{a: i, b: j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}

	return matches
}

// suffixPrefix returns the largest k <= limit such that the last k tokens
// of a equal the first k tokens of b and at least minLen of them are not
// empty. Zero means no such run.
func suffixPrefix(a, b []string, limit, minLen int) int {
	for k := limit; k >= minLen; k-- {
		if k > len(a) || k > len(b) {
			continue
		}

		var words int
		equal := true
		for i := 0; i < k; i++ {
			x, y := a[len(a)-k+i], b[i]
			if x != y {
				equal = false
				break
			}
			if x != "" {
				words++
			}
		}

		if equal && words >= minLen {
			return k
		}
	}

	return 0
}
