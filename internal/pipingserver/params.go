package pipingserver

import (
	"fmt"
	"net/url"
	"strconv"
)

// parseReceiverCount extracts the `n` query parameter: the number of
// receivers the sender/receivers on a path must agree on. Absent means 1.
func parseReceiverCount(query url.Values) (int, error) {
	values, present := query["n"]
	if !present {
		return 1, nil
	}
	raw := values[0]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("[ERROR] Invalid query parameter 'n': %q is not an integer\n", raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("[ERROR] Invalid query parameter 'n': %d is not >= 1\n", n)
	}
	return n, nil
}
